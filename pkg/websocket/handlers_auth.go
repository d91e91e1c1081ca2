package websocket

import (
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"
	"github.com/3588044667HZ/LightMessage-backend/pkg/redis"

	"go.uber.org/zap"
)

// handleLogin /auth/login
// 密码认证通过后把连接绑定到用户，落库在线状态并广播
// 绑定完成后异步补推离线消息
func (s *Server) handleLogin(ctx *Context) (interface{}, error) {
	var req struct {
		UserID   uint   `json:"userid"`
		Password string `json:"password"`
		DeviceID string `json:"device_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.UserID == 0 || req.Password == "" {
		return nil, protocol.ErrBadRequest("缺少userid或password")
	}

	user, token, err := s.users.Login(req.UserID, req.Password)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Authenticate(ctx.Conn.ConnectionID, user.ID, user.Username, req.DeviceID); err != nil {
		return nil, protocol.ErrInternal("连接绑定失败")
	}
	ctx.Conn.TouchHeartbeat()

	if err := s.userRepo.UpdateStatus(user.ID, model.UserStatusOnline); err != nil {
		logger.Warn("更新上线状态失败", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	s.cachePresence(user.ID, user.Username, model.UserStatusOnline)
	s.NotifyPresence(user.ID, user.Username, model.UserStatusOnline)

	logger.Info("用户登录",
		zap.Uint("user_id", user.ID),
		zap.String("connection_id", ctx.Conn.ConnectionID),
		zap.String("device_id", req.DeviceID))

	// 待补推数量先于补推协程读取，响应里告知客户端
	pending, err := s.offline.Count(user.ID)
	if err != nil {
		pending = 0
	}
	go s.PushOfflineMessages(ctx.Conn, user.ID)

	return map[string]interface{}{
		"token":           token,
		"offline_pending": pending,
		"user": map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
			"nickname": user.Nickname,
			"avatar":   user.Avatar,
		},
	}, nil
}

// handleLogout /auth/logout
// 吊销token并解绑连接，连接本身保持打开
func (s *Server) handleLogout(ctx *Context) (interface{}, error) {
	var req struct {
		Token string `json:"token"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}

	if err := s.users.Logout(req.Token); err != nil {
		logger.Warn("吊销token失败", zap.Uint("user_id", ctx.UserID), zap.Error(err))
	}

	userID, username, wasBound, stillOnline := s.manager.Remove(ctx.Conn.ConnectionID)
	s.manager.Add(ctx.Conn)
	if wasBound && !stillOnline {
		s.markOffline(userID, username)
	}

	logger.Info("用户登出", zap.Uint("user_id", ctx.UserID))
	return map[string]interface{}{"logged_out": true}, nil
}

// handleVerify /auth/verify 无状态token校验
func (s *Server) handleVerify(ctx *Context) (interface{}, error) {
	var req struct {
		Token string `json:"token"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	claims, err := s.tokens.VerifyToken(req.Token)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"valid":      true,
		"user_id":    claims.UserID(),
		"username":   claims.Username,
		"expires_at": claims.ExpiresAt.Unix(),
	}, nil
}

// handleHeartbeat /heartbeat
// 刷新连接心跳并回显服务器时间；已认证连接顺带续期状态缓存
func (s *Server) handleHeartbeat(ctx *Context) (interface{}, error) {
	ctx.Conn.TouchHeartbeat()
	if userID, _, ok := s.manager.BoundUser(ctx.Conn.ConnectionID); ok {
		if err := redis.RefreshUserPresence(userID); err != nil {
			logger.Debug("刷新在线状态缓存失败", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return map[string]interface{}{
		"server_time": time.Now().Unix(),
	}, nil
}
