package model

import (
	"time"

	"gorm.io/gorm"
)

// 消息类型
const (
	MsgTypeText   = "text"
	MsgTypeImage  = "image"
	MsgTypeFile   = "file"
	MsgTypeLink   = "link"
	MsgTypeSystem = "system"
)

// Message 消息模型
// 一经写入除 Delivered/Read/软删除标记外不可变
// 私聊消息填 ReceiverID，群聊消息填 GroupID，二者互斥
// Content 为客户端解释的结构化负载，服务端原样存储

type Message struct {
	ID          uint           `gorm:"primaryKey"`
	MessageID   string         `gorm:"type:varchar(64);not null;uniqueIndex;comment:消息ID"`
	SenderID    uint           `gorm:"not null;index:idx_sender_ts;comment:发送者ID"`
	ReceiverID  uint           `gorm:"index:idx_receiver_ts;comment:接收者ID(私聊)"`
	GroupID     string         `gorm:"type:varchar(32);index:idx_group_ts;comment:群ID(群聊)"`
	IsGroup     bool           `gorm:"default:false;comment:是否群消息"`
	MsgType     string         `gorm:"type:varchar(32);default:'text';comment:消息类型"`
	Content     string         `gorm:"type:text;not null;comment:消息内容(JSON)"`
	Timestamp   int64          `gorm:"index:idx_sender_ts;index:idx_receiver_ts;index:idx_group_ts;comment:消息时间戳"`
	ClientMsgID string         `gorm:"type:varchar(64);comment:客户端消息ID(去重用)"`
	AtUsers     string         `gorm:"type:varchar(512);comment:@用户列表(JSON)"`
	AtAll       bool           `gorm:"default:false;comment:是否@全体"`
	Delivered   bool           `gorm:"default:false;comment:是否已送达"`
	IsRead      bool           `gorm:"default:false;comment:是否已读(私聊)"`
	CreatedAt   time.Time      `gorm:"comment:创建时间"`
	UpdatedAt   time.Time      `gorm:"comment:更新时间"`
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (Message) TableName() string { return "message" }
