package model

import (
	"time"

	"gorm.io/gorm"
)

// 用户状态
const (
	UserStatusOnline  = "online"
	UserStatusOffline = "offline"
	UserStatusAway    = "away"
	UserStatusBusy    = "busy"
)

// User 用户模型
// 索引与唯一约束：用户名唯一
// 说明：密码仅存储哈希（PasswordHash），不存储明文
// Status 为缓存值，查询时以连接注册表的在线状态为准
// LastSeen 用于最近在线时间

type User struct {
	ID           uint           `gorm:"primaryKey"`
	Username     string         `gorm:"type:varchar(64);not null;uniqueIndex;comment:用户名"`
	Nickname     string         `gorm:"type:varchar(64);comment:昵称"`
	PasswordHash string         `gorm:"type:varchar(255);not null;comment:密码哈希"`
	Avatar       string         `gorm:"type:varchar(255);default:'default.jpg';comment:头像URL"`
	Department   string         `gorm:"type:varchar(64);comment:部门"`
	Tags         string         `gorm:"type:varchar(255);comment:标签(逗号分隔)"`
	Status       string         `gorm:"type:varchar(32);default:'offline';comment:状态"`
	LastSeen     time.Time      `gorm:"comment:最近在线时间"`
	CreatedAt    time.Time      `gorm:"comment:创建时间"`
	UpdatedAt    time.Time      `gorm:"comment:更新时间"`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

// TableName 指定表名（全局配置使用单数表名）
func (User) TableName() string { return "user" }

// Contact 联系人关系
// 每行代表 UserID 的联系人列表中含有 ContactID
// 双向添加由仓储层在同一事务内完成

type Contact struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_contact;comment:用户ID"`
	ContactID uint      `gorm:"not null;uniqueIndex:idx_user_contact;comment:联系人ID"`
	CreatedAt time.Time `gorm:"comment:创建时间"`
}

func (Contact) TableName() string { return "contact" }
