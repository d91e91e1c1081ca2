package websocket

import (
	"net/http"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/config"
	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	"github.com/3588044667HZ/LightMessage-backend/pkg/jwt"
	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// OfflineQueue 离线信封存储
// Enqueue 按入队顺序追加，Drain 按同样顺序返回且不清空
type OfflineQueue interface {
	Enqueue(userID uint, payload []byte) error
	Drain(userID uint) ([][]byte, error)
	Clear(userID uint) error
	Count(userID uint) (int64, error)
}

// Server 长连接服务
// 持有连接注册表、各数据仓储与离线队列，端点处理函数挂在它上面
type Server struct {
	cfg     config.WebSocketConfig
	manager *Manager
	routes  map[string]route

	tokens   *jwt.TokenService
	users    *service.UserService
	messages *service.MessageService
	userRepo *repository.UserRepository
	group    *repository.GroupRepository
	offline  OfflineQueue
}

// NewServer 创建长连接服务并注册全部端点
func NewServer(
	cfg config.WebSocketConfig,
	tokens *jwt.TokenService,
	users *service.UserService,
	messages *service.MessageService,
	userRepo *repository.UserRepository,
	group *repository.GroupRepository,
	offline OfflineQueue,
) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  NewManager(),
		routes:   make(map[string]route),
		tokens:   tokens,
		users:    users,
		messages: messages,
		userRepo: userRepo,
		group:    group,
		offline:  offline,
	}
	s.registerRoutes()
	return s
}

// Manager 暴露连接注册表（监控与测试用）
func (s *Server) Manager() *Manager {
	return s.manager
}

// registerRoutes 注册全部端点
func (s *Server) registerRoutes() {
	// 认证
	s.register("/auth/login", false, s.handleLogin)
	s.register("/auth/logout", true, s.handleLogout)
	s.register("/auth/verify", false, s.handleVerify)

	// 心跳
	s.register("/heartbeat", false, s.handleHeartbeat)

	// 消息
	s.register("/message/send", true, s.handlePrivateSend)
	s.register("/group/message/send", true, s.handleGroupSend)
	s.register("/message/read_receipt", true, s.handleReadReceipt)
	s.register("/message/typing", true, s.handleTyping)
	s.register("/message/delete", true, s.handleMessageDelete)
	s.register("/message/unread_count", true, s.handleUnreadCount)
	s.register("/history/get", true, s.handleHistory)
	s.register("/offline/get", true, s.handleOfflineGet)

	// 群组
	s.register("/group/create", true, s.handleGroupCreate)
	s.register("/group/join", true, s.handleGroupJoin)
	s.register("/group/invite", true, s.handleGroupInvite)
	s.register("/group/leave", true, s.handleGroupLeave)
	s.register("/group/kick", true, s.handleGroupKick)
	s.register("/group/update", true, s.handleGroupUpdate)
	s.register("/group/search", true, s.handleGroupSearch)
	s.register("/group/settings/update", true, s.handleGroupSettingsUpdate)
	s.register("/group/mute", true, s.handleGroupMute)
	s.register("/group/transfer", true, s.handleGroupTransfer)
	s.register("/group/disband", true, s.handleGroupDisband)
	s.register("/group/list", true, s.handleGroupList)
	s.register("/group/info", true, s.handleGroupInfo)

	// 联系人
	s.register("/contacts/list", true, s.handleContactsList)
	s.register("/contacts/add", true, s.handleContactsAdd)
	s.register("/contacts/remove", true, s.handleContactsRemove)
	s.register("/contacts/search", true, s.handleContactsSearch)

	// 系统
	s.register("/system/info", false, s.handleSystemInfo)
}

// WsHandler Gin路由处理函数
// 升级后即登记连接并下发欢迎帧，认证通过 /auth/login 在连接内完成
func (s *Server) WsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), conn, s.cfg.SendBuffer)
	s.manager.Add(client)
	logger.Info("新连接",
		zap.String("connection_id", client.ConnectionID),
		zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump(client)

	s.sendFrame(client, protocol.NewPush("/system/connected", map[string]interface{}{
		"connection_id":      client.ConnectionID,
		"server_time":        time.Now().Unix(),
		"heartbeat_interval": int(s.cfg.HeartbeatInterval.Seconds()),
	}))

	s.readLoop(client)
	s.cleanupConnection(client, "connection closed")
}

// readLoop 连接的读循环，按接收顺序逐帧分发
func (s *Server) readLoop(client *Client) {
	conn := client.Conn
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		client.TouchHeartbeat()
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.dispatch(client, payload)
	}
}

// writePump 连接的写协程，定时发协议层ping
func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				client.Close()
				return
			}
		case <-client.Done():
			return
		}
	}
}

// sendFrame 序列化并投递一帧到指定连接
func (s *Server) sendFrame(client *Client, resp *protocol.Response) bool {
	raw, err := resp.Marshal()
	if err != nil {
		logger.Error("序列化响应失败", zap.String("endpoint", resp.Endpoint), zap.Error(err))
		return false
	}
	return client.TrySend(raw)
}

// cleanupConnection 注销连接并广播下线
// 与读循环退出、心跳超时共用同一路径，幂等
func (s *Server) cleanupConnection(client *Client, reason string) {
	client.Close()
	userID, username, wasBound, stillOnline := s.manager.Remove(client.ConnectionID)
	if !wasBound {
		logger.Info("连接关闭",
			zap.String("connection_id", client.ConnectionID),
			zap.String("reason", reason))
		return
	}

	logger.Info("连接关闭",
		zap.String("connection_id", client.ConnectionID),
		zap.Uint("user_id", userID),
		zap.Bool("still_online", stillOnline),
		zap.String("reason", reason))

	// 其他设备仍在线时不改在线状态
	if stillOnline {
		return
	}
	s.markOffline(userID, username)
}

// markOffline 用户完全下线后的状态落库与广播
func (s *Server) markOffline(userID uint, username string) {
	if err := s.userRepo.UpdateStatus(userID, model.UserStatusOffline); err != nil {
		logger.Warn("更新下线状态失败", zap.Uint("user_id", userID), zap.Error(err))
	}
	s.cachePresence(userID, username, model.UserStatusOffline)
	s.NotifyPresence(userID, username, model.UserStatusOffline)
}
