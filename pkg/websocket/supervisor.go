package websocket

import (
	"context"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"

	"go.uber.org/zap"
)

// RunHeartbeatChecker 心跳巡检
// 按固定间隔扫描注册表，淘汰超时连接；ctx取消后退出
// 超时通知尽力而为，发不出去也照常注销
func (s *Server) RunHeartbeatChecker(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	logger.Info("心跳巡检启动",
		zap.Duration("interval", s.cfg.HeartbeatInterval),
		zap.Duration("timeout", s.cfg.HeartbeatTimeout))

	for {
		select {
		case <-ctx.Done():
			logger.Info("心跳巡检退出")
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

// sweepStale 淘汰一轮超时连接
func (s *Server) sweepStale() {
	stale := s.manager.Stale(s.cfg.HeartbeatTimeout)
	if len(stale) == 0 {
		return
	}
	logger.Info("发现心跳超时连接", zap.Int("count", len(stale)))
	for _, client := range stale {
		s.sendFrame(client, protocol.NewPush("/system/disconnect", map[string]interface{}{
			"reason": "heartbeat_timeout",
		}))
		s.cleanupConnection(client, "heartbeat timeout")
	}
}
