package model

import (
	"time"
)

// 群成员角色
const (
	RoleOwner  = "owner"  // 群主
	RoleAdmin  = "admin"  // 管理员
	RoleMember = "member" // 普通成员
)

// 群状态
const (
	GroupStatusActive    = "active"    // 活跃
	GroupStatusDisbanded = "disbanded" // 已解散
	GroupStatusFrozen    = "frozen"    // 冻结
)

// 群设置可选值
const (
	InviteAll    = "all"
	InviteMember = "member"
	InviteAdmin  = "admin"
	InviteOwner  = "owner"

	MessageAll       = "all"
	MessageMember    = "member_only"
	MessageAdminOnly = "admin_only"
)

// GroupSettings 群设置
// 作为 Group 的内嵌字段落到各自的列上，对外按设置map呈现

type GroupSettings struct {
	InvitePermission  string `gorm:"type:varchar(16);default:'admin';comment:邀请权限" json:"invite_permission"`
	MessagePermission string `gorm:"type:varchar(16);default:'all';comment:发言权限" json:"message_permission"`
	MaxMembers        int    `gorm:"default:500;comment:最大成员数" json:"max_members"`
	MuteAll           bool   `gorm:"default:false;comment:全员禁言" json:"mute_all"`
}

// Group 群组模型
// MemberCount 是成员表行数的冗余计数，由仓储层在同一事务内维护

type Group struct {
	ID          uint          `gorm:"primaryKey"`
	GroupID     string        `gorm:"type:varchar(32);not null;uniqueIndex;comment:群组ID"`
	Name        string        `gorm:"type:varchar(64);not null;index;comment:群名称"`
	OwnerID     uint          `gorm:"not null;index;comment:群主ID"`
	Description string        `gorm:"type:varchar(255);comment:群描述"`
	Avatar      string        `gorm:"type:varchar(255);default:'group_default.jpg';comment:群头像"`
	MemberCount int           `gorm:"default:0;comment:成员数"`
	Status      string        `gorm:"type:varchar(16);default:'active';comment:群状态"`
	Settings    GroupSettings `gorm:"embedded;embeddedPrefix:setting_"`
	CreatedAt   time.Time     `gorm:"comment:创建时间"`
	UpdatedAt   time.Time     `gorm:"comment:更新时间"`
}

func (Group) TableName() string { return "im_group" }

// SettingsMap 以协议层约定的键名导出群设置
func (g *Group) SettingsMap() map[string]interface{} {
	return map[string]interface{}{
		"invite_permission":  g.Settings.InvitePermission,
		"message_permission": g.Settings.MessagePermission,
		"max_members":        g.Settings.MaxMembers,
		"mute_all":           g.Settings.MuteAll,
	}
}

// GroupMember 群成员模型
// (GroupID, UserID) 唯一；一行存在即代表当前是成员
// MuteUntil 为禁言到期时间戳，0表示未禁言

type GroupMember struct {
	ID        uint   `gorm:"primaryKey"`
	GroupID   string `gorm:"type:varchar(32);not null;uniqueIndex:idx_group_user;comment:群组ID"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_group_user;index;comment:用户ID"`
	Role      string `gorm:"type:varchar(16);default:'member';index;comment:角色"`
	JoinedAt  int64  `gorm:"comment:加入时间戳"`
	Nickname  string `gorm:"type:varchar(64);comment:群昵称"`
	MuteUntil int64  `gorm:"default:0;comment:禁言到期时间戳"`
}

func (GroupMember) TableName() string { return "group_member" }

// IsMuted 判断当前时刻是否处于禁言中
func (m *GroupMember) IsMuted(now time.Time) bool {
	return m.MuteUntil > 0 && now.Unix() < m.MuteUntil
}
