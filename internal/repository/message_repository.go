package repository

import (
	"errors"
	"strings"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息操作的业务错误
var (
	ErrMessageNotFound = errors.New("消息不存在")
	ErrDeleteForbidden = errors.New("无权删除该消息")
)

// HistoryQuery 历史消息查询条件
// BeforeID 为翻页锚点，只返回严格早于该消息的记录
// StartTime/EndTime 为可选的时间戳范围（秒），0表示不限制
type HistoryQuery struct {
	Limit     int
	BeforeID  string
	StartTime int64
	EndTime   int64
}

// MessageRepository 消息数据仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save 持久化消息，MessageID 为空时生成
func (r *MessageRepository) Save(message *model.Message) error {
	if message.MessageID == "" {
		message.MessageID = "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return r.db.Create(message).Error
}

// GetByMessageID 根据消息ID获取消息
func (r *MessageRepository) GetByMessageID(messageID string) (*model.Message, error) {
	var message model.Message
	err := r.db.Where("message_id = ?", messageID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// applyHistoryQuery 套用翻页锚点和时间范围
// 锚点消息找不到时忽略锚点，从最新开始
func (r *MessageRepository) applyHistoryQuery(tx *gorm.DB, q HistoryQuery) *gorm.DB {
	if q.BeforeID != "" {
		var anchor model.Message
		if err := r.db.Where("message_id = ?", q.BeforeID).First(&anchor).Error; err == nil {
			tx = tx.Where("(timestamp < ?) OR (timestamp = ? AND id < ?)",
				anchor.Timestamp, anchor.Timestamp, anchor.ID)
		}
	}
	if q.StartTime > 0 {
		tx = tx.Where("timestamp >= ?", q.StartTime)
	}
	if q.EndTime > 0 {
		tx = tx.Where("timestamp <= ?", q.EndTime)
	}
	return tx
}

// GetPrivateHistory 获取两个用户之间的私聊历史
// 倒序取最近一页后反转，返回结果按时间升序
func (r *MessageRepository) GetPrivateHistory(userID, peerID uint, q HistoryQuery) ([]*model.Message, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	tx := r.db.Where("is_group = ?", false).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, peerID, peerID, userID)
	tx = r.applyHistoryQuery(tx, q)

	var messages []*model.Message
	err := tx.Order("timestamp DESC, id DESC").
		Limit(q.Limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

// GetGroupHistory 获取群聊历史，返回结果按时间升序
func (r *MessageRepository) GetGroupHistory(groupID string, q HistoryQuery) ([]*model.Message, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	tx := r.db.Where("is_group = ? AND group_id = ?", true, groupID)
	tx = r.applyHistoryQuery(tx, q)

	var messages []*model.Message
	err := tx.Order("timestamp DESC, id DESC").
		Limit(q.Limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func reverse(messages []*model.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

// MarkDelivered 标记消息已送达
func (r *MessageRepository) MarkDelivered(messageID string) error {
	return r.db.Model(&model.Message{}).
		Where("message_id = ?", messageID).
		Update("delivered", true).Error
}

// MarkRead 标记私聊消息已读
// 只有接收者可以标记
func (r *MessageRepository) MarkRead(messageID string, readerID uint) error {
	result := r.db.Model(&model.Message{}).
		Where("message_id = ? AND receiver_id = ? AND is_group = ?", messageID, readerID, false).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkConversationRead 标记与某用户的整个会话已读
func (r *MessageRepository) MarkConversationRead(readerID, peerID uint) error {
	return r.db.Model(&model.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_group = ? AND is_read = ?",
			readerID, peerID, false, false).
		Update("is_read", true).Error
}

// GetUnreadCount 获取用户未读私聊消息数量
func (r *MessageRepository) GetUnreadCount(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Message{}).
		Where("receiver_id = ? AND is_group = ? AND is_read = ?", userID, false, false).
		Count(&count).Error
	return count, err
}

// SoftDelete 软删除消息
// 发送者随时可删，私聊接收者也可删除自己收到的消息
func (r *MessageRepository) SoftDelete(messageID string, requesterID uint) error {
	message, err := r.GetByMessageID(messageID)
	if err != nil {
		return err
	}
	if message.SenderID != requesterID &&
		!(message.IsGroup == false && message.ReceiverID == requesterID) {
		return ErrDeleteForbidden
	}
	return r.db.Delete(message).Error
}
