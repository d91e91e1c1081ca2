package websocket

import (
	"encoding/json"

	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"
)

// handlePrivateSend /message/send
// 持久化后路由：接收者在线返回200，离线入队返回202
func (s *Server) handlePrivateSend(ctx *Context) (interface{}, error) {
	var req struct {
		ReceiverID  uint            `json:"receiver_id"`
		Type        string          `json:"type"`
		Content     json.RawMessage `json:"content"`
		ClientMsgID string          `json:"client_msg_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.ReceiverID == 0 || len(req.Content) == 0 {
		return nil, protocol.ErrBadRequest("缺少receiver_id或content")
	}

	message, err := s.messages.SavePrivate(ctx.UserID, req.ReceiverID, req.Type, string(req.Content), req.ClientMsgID)
	if err != nil {
		return nil, err
	}

	delivered, err := s.RoutePrivate(message)
	if err != nil {
		return nil, err
	}
	code := protocol.CodeOK
	if !delivered {
		code = protocol.CodeAccepted
	}
	return protocol.NewResponse(ctx.Endpoint, code, map[string]interface{}{
		"delivered":     delivered,
		"server_msg_id": message.MessageID,
		"timestamp":     message.Timestamp,
	}, ctx.RequestID), nil
}

// handleGroupSend /group/message/send
// 发言权限和禁言在持久化前检查，被拒的消息不会进消息库
func (s *Server) handleGroupSend(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID     string          `json:"group_id"`
		Type        string          `json:"type"`
		Content     json.RawMessage `json:"content"`
		ClientMsgID string          `json:"client_msg_id"`
		AtUsers     []uint          `json:"at_users"`
		AtAll       bool            `json:"at_all"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" || len(req.Content) == 0 {
		return nil, protocol.ErrBadRequest("缺少group_id或content")
	}

	message, err := s.messages.SaveGroup(ctx.UserID, req.GroupID, req.Type, string(req.Content), req.ClientMsgID, req.AtUsers, req.AtAll)
	if err != nil {
		return nil, err
	}

	memberIDs, err := s.group.GetMemberIDs(req.GroupID)
	if err != nil {
		return nil, err
	}
	deliveredTo, offlineMembers := s.RouteGroup(message, memberIDs)

	return map[string]interface{}{
		"server_msg_id":   message.MessageID,
		"timestamp":       message.Timestamp,
		"delivered_to":    deliveredTo,
		"offline_members": offlineMembers,
	}, nil
}

// handleReadReceipt /message/read_receipt
// 逐条标记已读；message_ids缺省时标记与该发送者的整个会话
// 发送者在线时转发回执，离线不入队
func (s *Server) handleReadReceipt(ctx *Context) (interface{}, error) {
	var req struct {
		SenderID   uint     `json:"sender_id"`
		MessageIDs []string `json:"message_ids"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.SenderID == 0 {
		return nil, protocol.ErrBadRequest("缺少sender_id")
	}

	if len(req.MessageIDs) == 0 {
		if err := s.messages.MarkConversationRead(ctx.UserID, req.SenderID); err != nil {
			return nil, err
		}
		forwarded := s.PushToUser(req.SenderID, protocol.NewPush("/message/read_receipt", map[string]interface{}{
			"reader_id": ctx.UserID,
			"all":       true,
		}))
		return map[string]interface{}{
			"marked_all": true,
			"forwarded":  forwarded,
		}, nil
	}

	marked := make([]string, 0, len(req.MessageIDs))
	for _, messageID := range req.MessageIDs {
		if err := s.messages.MarkRead(messageID, ctx.UserID); err != nil {
			continue
		}
		marked = append(marked, messageID)
	}

	forwarded := false
	if len(marked) > 0 {
		forwarded = s.PushToUser(req.SenderID, protocol.NewPush("/message/read_receipt", map[string]interface{}{
			"reader_id":   ctx.UserID,
			"message_ids": marked,
		}))
	}
	return map[string]interface{}{
		"marked":    marked,
		"forwarded": forwarded,
	}, nil
}

// handleMessageDelete /message/delete
// 发送者可删自己发的消息，私聊接收者可删自己收到的消息
func (s *Server) handleMessageDelete(ctx *Context) (interface{}, error) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.MessageID == "" {
		return nil, protocol.ErrBadRequest("缺少message_id")
	}
	if err := s.messages.Delete(req.MessageID, ctx.UserID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": req.MessageID}, nil
}

// handleUnreadCount /message/unread_count 未读私聊消息总数
func (s *Server) handleUnreadCount(ctx *Context) (interface{}, error) {
	count, err := s.messages.UnreadCount(ctx.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"unread": count}, nil
}

// handleTyping /message/typing
// 输入状态只投在线对端，不持久化不入队，自身不回响应
func (s *Server) handleTyping(ctx *Context) (interface{}, error) {
	var req struct {
		ReceiverID uint `json:"receiver_id"`
		Typing     bool `json:"typing"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.ReceiverID == 0 {
		return nil, protocol.ErrBadRequest("缺少receiver_id")
	}
	s.PushToUser(req.ReceiverID, protocol.NewPush("/message/typing", map[string]interface{}{
		"sender_id": ctx.UserID,
		"typing":    req.Typing,
	}))
	return nil, nil
}

// handleHistory /history/get
// target_type=private时target_id为对方用户ID，group时为群组ID
func (s *Server) handleHistory(ctx *Context) (interface{}, error) {
	var req struct {
		TargetType string `json:"target_type"`
		TargetID   string `json:"target_id"`
		PeerID     uint   `json:"peer_id"`
		StartTime  int64  `json:"start_time"`
		EndTime    int64  `json:"end_time"`
		Limit      int    `json:"limit"`
		BeforeID   string `json:"before_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}

	query := repository.HistoryQuery{
		Limit:     req.Limit,
		BeforeID:  req.BeforeID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}

	switch req.TargetType {
	case "private":
		peerID := req.PeerID
		if peerID == 0 {
			peerID = parseUserID(req.TargetID)
		}
		if peerID == 0 {
			return nil, protocol.ErrBadRequest("缺少对方用户ID")
		}
		messages, err := s.messages.PrivateHistory(ctx.UserID, peerID, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"messages": service.MessageViews(messages)}, nil
	case "group":
		if req.TargetID == "" {
			return nil, protocol.ErrBadRequest("缺少群组ID")
		}
		messages, err := s.messages.GroupHistory(ctx.UserID, req.TargetID, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"messages": service.MessageViews(messages)}, nil
	default:
		return nil, protocol.ErrBadRequest("target_type必须是private或group")
	}
}

// handleOfflineGet /offline/get
// 取出并清空离线队列，信封原样返回由客户端逐条消费
func (s *Server) handleOfflineGet(ctx *Context) (interface{}, error) {
	payloads, err := s.offline.Drain(ctx.UserID)
	if err != nil {
		return nil, err
	}
	envelopes := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		envelopes = append(envelopes, json.RawMessage(p))
		s.ackOfflinePayload(p)
	}
	if len(payloads) > 0 {
		if err := s.offline.Clear(ctx.UserID); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{
		"count":    len(envelopes),
		"messages": envelopes,
	}, nil
}
