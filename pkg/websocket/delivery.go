package websocket

import (
	"encoding/json"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"
	"github.com/3588044667HZ/LightMessage-backend/pkg/redis"

	"go.uber.org/zap"
)

// PushRaw 向用户的全部在线连接投递一帧原始字节
// 任一连接投递成功即视为已送达；投递失败的连接视为僵死连接淘汰
func (s *Server) PushRaw(userID uint, frame []byte) bool {
	clients := s.manager.ConnectionsFor(userID)
	if len(clients) == 0 {
		return false
	}
	delivered := false
	for _, c := range clients {
		if c.TrySend(frame) {
			delivered = true
			continue
		}
		logger.Warn("连接发送缓冲已满，淘汰连接",
			zap.String("connection_id", c.ConnectionID),
			zap.Uint("user_id", userID))
		go s.cleanupConnection(c, "send buffer full")
	}
	return delivered
}

// PushToUser 向用户推送一帧，仅在线投递
func (s *Server) PushToUser(userID uint, push *protocol.Response) bool {
	raw, err := push.Marshal()
	if err != nil {
		logger.Error("序列化推送帧失败", zap.String("endpoint", push.Endpoint), zap.Error(err))
		return false
	}
	return s.PushRaw(userID, raw)
}

// deliverOrQueue 在线推送，离线落队列
// 队列里存的就是本应推送的那一帧，补推时逐字节原样下发
func (s *Server) deliverOrQueue(userID uint, push *protocol.Response) (delivered bool, err error) {
	raw, err := push.Marshal()
	if err != nil {
		return false, err
	}
	if s.PushRaw(userID, raw) {
		return true, nil
	}
	if err := s.offline.Enqueue(userID, raw); err != nil {
		return false, err
	}
	return false, nil
}

// RoutePrivate 路由一条已持久化的私聊消息
// 在线直推返回true；离线入队返回false，调用方以202响应发送者
func (s *Server) RoutePrivate(message *model.Message) (bool, error) {
	push := protocol.NewPush("/message/receive", service.MessageView(message))
	delivered, err := s.deliverOrQueue(message.ReceiverID, push)
	if err != nil {
		return false, err
	}
	if delivered {
		_ = s.messages.MarkDelivered(message.MessageID)
	}
	return delivered, nil
}

// RouteGroup 将群消息扇出给除发送者外的全部成员
// 返回在线送达与离线入队的成员ID
func (s *Server) RouteGroup(message *model.Message, memberIDs []uint) (deliveredTo, offlineMembers []uint) {
	push := protocol.NewPush("/group/message/receive", service.MessageView(message))
	raw, err := push.Marshal()
	if err != nil {
		logger.Error("序列化群消息帧失败", zap.String("message_id", message.MessageID), zap.Error(err))
		return nil, nil
	}

	deliveredTo = make([]uint, 0, len(memberIDs))
	offlineMembers = make([]uint, 0)
	for _, memberID := range memberIDs {
		if memberID == message.SenderID {
			continue
		}
		if s.PushRaw(memberID, raw) {
			deliveredTo = append(deliveredTo, memberID)
			continue
		}
		if err := s.offline.Enqueue(memberID, raw); err != nil {
			logger.Error("群消息入离线队列失败",
				zap.Uint("member_id", memberID),
				zap.String("message_id", message.MessageID),
				zap.Error(err))
			continue
		}
		offlineMembers = append(offlineMembers, memberID)
	}
	if len(deliveredTo) > 0 {
		_ = s.messages.MarkDelivered(message.MessageID)
	}
	return deliveredTo, offlineMembers
}

// NotifyPresence 向在线的联系人广播状态变化
// 只推在线联系人，不入离线队列
func (s *Server) NotifyPresence(userID uint, username, status string) {
	contactIDs, err := s.userRepo.GetContactIDs(userID)
	if err != nil {
		logger.Warn("获取联系人失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	push := protocol.NewPush("/presence/update", map[string]interface{}{
		"user_id":  userID,
		"username": username,
		"status":   status,
	})
	raw, err := push.Marshal()
	if err != nil {
		return
	}
	for _, contactID := range s.manager.OnlineOf(contactIDs) {
		s.PushRaw(contactID, raw)
	}
}

// NotifyGroupEvent 向群内在线成员广播群事件（入群/退群/禁言等）
// 事件不入离线队列
func (s *Server) NotifyGroupEvent(groupID string, event string, data map[string]interface{}, excludeID uint) {
	memberIDs, err := s.group.GetMemberIDs(groupID)
	if err != nil {
		logger.Warn("获取群成员失败", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	s.pushGroupEvent(memberIDs, groupID, event, data, excludeID)
}

// pushGroupEvent 向给定成员集合广播群事件
// 成员名单由调用方提供，适用于名册已变更或即将变更的场景
func (s *Server) pushGroupEvent(memberIDs []uint, groupID, event string, data map[string]interface{}, excludeID uint) {
	payload := map[string]interface{}{
		"group_id": groupID,
		"event":    event,
	}
	for k, v := range data {
		payload[k] = v
	}
	push := protocol.NewPush("/group/notification", payload)
	raw, err := push.Marshal()
	if err != nil {
		return
	}
	for _, memberID := range memberIDs {
		if memberID == excludeID {
			continue
		}
		s.PushRaw(memberID, raw)
	}
}

// PushOfflineMessages 登录后补推离线信封
// 逐条原样下发，全部送达后才清空队列；中途失败保留剩余消息等下次登录
func (s *Server) PushOfflineMessages(client *Client, userID uint) {
	payloads, err := s.offline.Drain(userID)
	if err != nil {
		logger.Warn("读取离线队列失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if len(payloads) == 0 {
		return
	}

	for _, payload := range payloads {
		if !client.SendWait(payload, 5*time.Second) {
			logger.Warn("离线消息补推中断",
				zap.Uint("user_id", userID),
				zap.String("connection_id", client.ConnectionID))
			return
		}
		s.ackOfflinePayload(payload)
	}
	if err := s.offline.Clear(userID); err != nil {
		logger.Warn("清空离线队列失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	logger.Info("离线消息补推完成",
		zap.Uint("user_id", userID),
		zap.Int("count", len(payloads)))
}

// ackOfflinePayload 补推成功后的送达回执
// 标记消息已送达，发送者在线时推送回执；解析失败静默跳过
func (s *Server) ackOfflinePayload(payload []byte) {
	var frame struct {
		Endpoint string `json:"endpoint"`
		Data     struct {
			MessageID string `json:"message_id"`
			SenderID  uint   `json:"sender_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}
	if frame.Data.MessageID == "" {
		return
	}
	_ = s.messages.MarkDelivered(frame.Data.MessageID)
	if frame.Data.SenderID > 0 {
		s.PushToUser(frame.Data.SenderID, protocol.NewPush("/message/delivery_receipt", map[string]interface{}{
			"message_id": frame.Data.MessageID,
			"delivered":  true,
		}))
	}
}

// cachePresence 机会性更新Redis在线状态缓存，失败不影响主流程
func (s *Server) cachePresence(userID uint, username, status string) {
	if err := redis.SetUserPresence(userID, username, status); err != nil {
		logger.Debug("更新在线状态缓存失败", zap.Uint("user_id", userID), zap.Error(err))
	}
}
