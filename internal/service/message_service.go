package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
)

// 消息路由相关的业务错误
var (
	ErrReceiverNotFound = errors.New("接收者不存在")
	ErrSelfMessage      = errors.New("不能给自己发消息")
	ErrMuted            = errors.New("您已被禁言")
	ErrNoSendPermission = errors.New("没有发言权限")
)

// MessageService 消息服务
// 负责消息的校验与持久化，实时投递由连接层完成
type MessageService struct {
	messageRepo *repository.MessageRepository
	userRepo    *repository.UserRepository
	groupRepo   *repository.GroupRepository
}

// NewMessageService 创建MessageService实例
func NewMessageService(messageRepo *repository.MessageRepository, userRepo *repository.UserRepository, groupRepo *repository.GroupRepository) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		groupRepo:   groupRepo,
	}
}

// SavePrivate 校验并持久化私聊消息
func (s *MessageService) SavePrivate(senderID, receiverID uint, msgType, content, clientMsgID string) (*model.Message, error) {
	if senderID == receiverID {
		return nil, ErrSelfMessage
	}
	if _, err := s.userRepo.GetByID(receiverID); err != nil {
		return nil, ErrReceiverNotFound
	}
	if msgType == "" {
		msgType = model.MsgTypeText
	}

	message := &model.Message{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		IsGroup:     false,
		MsgType:     msgType,
		Content:     content,
		Timestamp:   time.Now().Unix(),
		ClientMsgID: clientMsgID,
	}
	if err := s.messageRepo.Save(message); err != nil {
		return nil, err
	}
	return message, nil
}

// SaveGroup 校验发言权限并持久化群聊消息
// 检查顺序：群存在且活跃 → 发送者是成员 → 禁言 → 发言权限
func (s *MessageService) SaveGroup(senderID uint, groupID, msgType, content, clientMsgID string, atUsers []uint, atAll bool) (*model.Message, error) {
	group, err := s.groupRepo.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	if group.Status != model.GroupStatusActive {
		return nil, repository.ErrGroupDisbanded
	}

	member, err := s.groupRepo.GetMember(groupID, senderID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if member.IsMuted(now) {
		return nil, ErrMuted
	}
	// 全员禁言对群主和管理员不生效
	if group.Settings.MuteAll && member.Role == model.RoleMember {
		return nil, ErrMuted
	}
	if group.Settings.MessagePermission == model.MessageAdminOnly &&
		member.Role == model.RoleMember {
		return nil, ErrNoSendPermission
	}

	if msgType == "" {
		msgType = model.MsgTypeText
	}
	var atJSON string
	if len(atUsers) > 0 {
		raw, _ := json.Marshal(atUsers)
		atJSON = string(raw)
	}

	message := &model.Message{
		SenderID:    senderID,
		GroupID:     groupID,
		IsGroup:     true,
		MsgType:     msgType,
		Content:     content,
		Timestamp:   now.Unix(),
		ClientMsgID: clientMsgID,
		AtUsers:     atJSON,
		AtAll:       atAll,
	}
	if err := s.messageRepo.Save(message); err != nil {
		return nil, err
	}
	return message, nil
}

// PrivateHistory 获取私聊历史
func (s *MessageService) PrivateHistory(userID, peerID uint, q repository.HistoryQuery) ([]*model.Message, error) {
	if _, err := s.userRepo.GetByID(peerID); err != nil {
		return nil, ErrReceiverNotFound
	}
	return s.messageRepo.GetPrivateHistory(userID, peerID, q)
}

// GroupHistory 获取群聊历史，仅群成员可见
func (s *MessageService) GroupHistory(userID uint, groupID string, q repository.HistoryQuery) ([]*model.Message, error) {
	if _, err := s.groupRepo.GetGroup(groupID); err != nil {
		return nil, err
	}
	ok, err := s.groupRepo.IsMember(groupID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repository.ErrNotMember
	}
	return s.messageRepo.GetGroupHistory(groupID, q)
}

// MarkRead 标记私聊消息已读
func (s *MessageService) MarkRead(messageID string, readerID uint) error {
	return s.messageRepo.MarkRead(messageID, readerID)
}

// MarkConversationRead 标记与某用户的整个私聊会话已读
func (s *MessageService) MarkConversationRead(readerID, peerID uint) error {
	return s.messageRepo.MarkConversationRead(readerID, peerID)
}

// MarkDelivered 标记消息已送达
func (s *MessageService) MarkDelivered(messageID string) error {
	return s.messageRepo.MarkDelivered(messageID)
}

// Delete 删除消息
func (s *MessageService) Delete(messageID string, requesterID uint) error {
	return s.messageRepo.SoftDelete(messageID, requesterID)
}

// UnreadCount 获取未读私聊消息数量
func (s *MessageService) UnreadCount(userID uint) (int64, error) {
	return s.messageRepo.GetUnreadCount(userID)
}

// MessageView 消息的线上视图
func MessageView(m *model.Message) map[string]interface{} {
	view := map[string]interface{}{
		"message_id": m.MessageID,
		"sender_id":  m.SenderID,
		"msg_type":   m.MsgType,
		"content":    json.RawMessage(m.Content),
		"timestamp":  m.Timestamp,
	}
	if m.ClientMsgID != "" {
		view["client_msg_id"] = m.ClientMsgID
	}
	if m.IsGroup {
		view["group_id"] = m.GroupID
		if m.AtUsers != "" {
			view["at_users"] = json.RawMessage(m.AtUsers)
		}
		if m.AtAll {
			view["at_all"] = true
		}
	} else {
		view["receiver_id"] = m.ReceiverID
	}
	return view
}

// MessageViews 批量转消息视图
func MessageViews(messages []*model.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		out = append(out, MessageView(m))
	}
	return out
}
