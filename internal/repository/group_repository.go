package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 群组操作的业务错误
var (
	ErrGroupNotFound  = errors.New("群组不存在")
	ErrGroupDisbanded = errors.New("群组已解散")
	ErrNotMember      = errors.New("不是群成员")
	ErrAlreadyMember  = errors.New("已经是群成员")
	ErrGroupFull      = errors.New("群成员已达上限")
	ErrOwnerLeave     = errors.New("群主不能退出群组，请先转让群主")
	ErrNotOwner       = errors.New("只有群主可以执行该操作")
)

// GroupRepository 群组数据仓储
// 成员表的一行存在即代表成员身份，MemberCount 冗余计数
// 所有增删成员的操作都在同一事务内同步维护计数
type GroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository 创建GroupRepository实例
func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// CreateGroup 创建群组
// 群记录和群主成员记录在同一事务内写入，初始计数为1
func (r *GroupRepository) CreateGroup(name, description string, ownerID uint, settings *model.GroupSettings) (*model.Group, error) {
	group := &model.Group{
		GroupID:     "grp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Name:        name,
		OwnerID:     ownerID,
		Description: description,
		MemberCount: 1,
		Status:      model.GroupStatusActive,
		Settings: model.GroupSettings{
			InvitePermission:  model.InviteAdmin,
			MessagePermission: model.MessageAll,
			MaxMembers:        500,
		},
	}
	if settings != nil {
		group.Settings = *settings
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		owner := &model.GroupMember{
			GroupID:  group.GroupID,
			UserID:   ownerID,
			Role:     model.RoleOwner,
			JoinedAt: time.Now().Unix(),
		}
		return tx.Create(owner).Error
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup 根据群组ID获取群组
func (r *GroupRepository) GetGroup(groupID string) (*model.Group, error) {
	var group model.Group
	err := r.db.Where("group_id = ?", groupID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// getActiveGroup 取活跃状态的群组，已解散的群拒绝写操作
func (r *GroupRepository) getActiveGroup(tx *gorm.DB, groupID string) (*model.Group, error) {
	var group model.Group
	err := tx.Where("group_id = ?", groupID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if group.Status != model.GroupStatusActive {
		return nil, ErrGroupDisbanded
	}
	return &group, nil
}

// AddMember 添加群成员
// 成员行插入与计数自增在同一事务内完成
func (r *GroupRepository) AddMember(groupID string, userID uint, role string) error {
	if role == "" {
		role = model.RoleMember
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		group, err := r.getActiveGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.Settings.MaxMembers > 0 && group.MemberCount >= group.Settings.MaxMembers {
			return ErrGroupFull
		}

		var count int64
		if err := tx.Model(&model.GroupMember{}).
			Where("group_id = ? AND user_id = ?", groupID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyMember
		}

		member := &model.GroupMember{
			GroupID:  groupID,
			UserID:   userID,
			Role:     role,
			JoinedAt: time.Now().Unix(),
		}
		if err := tx.Create(member).Error; err != nil {
			return err
		}
		return tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Update("member_count", gorm.Expr("member_count + ?", 1)).Error
	})
}

// RemoveMember 移除群成员（退群或踢出）
// 群主不能被移除，必须先转让群主
func (r *GroupRepository) RemoveMember(groupID string, userID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if _, err := r.getActiveGroup(tx, groupID); err != nil {
			return err
		}

		var member model.GroupMember
		err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).
			First(&member).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotMember
			}
			return err
		}
		if member.Role == model.RoleOwner {
			return ErrOwnerLeave
		}

		if err := tx.Delete(&member).Error; err != nil {
			return err
		}
		return tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Update("member_count", gorm.Expr("member_count - ?", 1)).Error
	})
}

// GetMember 获取成员记录
func (r *GroupRepository) GetMember(groupID string, userID uint) (*model.GroupMember, error) {
	var member model.GroupMember
	err := r.db.Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return &member, nil
}

// IsMember 判断用户是否为群成员
func (r *GroupRepository) IsMember(groupID string, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetRole 获取用户在群内的角色
func (r *GroupRepository) GetRole(groupID string, userID uint) (string, error) {
	member, err := r.GetMember(groupID, userID)
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

// GetMembers 获取群成员列表，群主和管理员排前面
func (r *GroupRepository) GetMembers(groupID string) ([]*model.GroupMember, error) {
	var members []*model.GroupMember
	err := r.db.Where("group_id = ?", groupID).
		Order("CASE role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, joined_at ASC").
		Find(&members).Error
	return members, err
}

// GetMemberIDs 获取群成员ID列表（消息扇出用）
func (r *GroupRepository) GetMemberIDs(groupID string) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// GetUserGroups 获取用户加入的所有活跃群组
func (r *GroupRepository) GetUserGroups(userID uint) ([]*model.Group, error) {
	var groups []*model.Group
	err := r.db.
		Joins("JOIN group_member ON group_member.group_id = im_group.group_id").
		Where("group_member.user_id = ? AND im_group.status = ?", userID, model.GroupStatusActive).
		Find(&groups).Error
	return groups, err
}

// UpdateRole 设置成员角色（admin/member）
// owner 角色只能通过 TransferOwnership 变更
func (r *GroupRepository) UpdateRole(groupID string, userID uint, role string) error {
	if role != model.RoleAdmin && role != model.RoleMember {
		return errors.New("无效的角色")
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if _, err := r.getActiveGroup(tx, groupID); err != nil {
			return err
		}
		var member model.GroupMember
		err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).
			First(&member).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotMember
			}
			return err
		}
		if member.Role == model.RoleOwner {
			return errors.New("不能修改群主角色")
		}
		return tx.Model(&member).Update("role", role).Error
	})
}

// UpdateSettings 更新群设置，只更新给定的键
func (r *GroupRepository) UpdateSettings(groupID string, settings map[string]interface{}) error {
	columns := map[string]interface{}{}
	for key, value := range settings {
		switch key {
		case "invite_permission":
			columns["setting_invite_permission"] = value
		case "message_permission":
			columns["setting_message_permission"] = value
		case "max_members":
			columns["setting_max_members"] = value
		case "mute_all":
			columns["setting_mute_all"] = value
		}
	}
	if len(columns) == 0 {
		return errors.New("没有可更新的设置项")
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if _, err := r.getActiveGroup(tx, groupID); err != nil {
			return err
		}
		return tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Updates(columns).Error
	})
}

// UpdateInfo 更新群基本信息（名称/描述/头像）
func (r *GroupRepository) UpdateInfo(groupID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if _, err := r.getActiveGroup(tx, groupID); err != nil {
			return err
		}
		return tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Updates(fields).Error
	})
}

// TransferOwnership 转让群主
// 旧群主降为管理员、新群主升为owner、群记录的OwnerID切换，三步同一事务
func (r *GroupRepository) TransferOwnership(groupID string, fromID, toID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		group, err := r.getActiveGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.OwnerID != fromID {
			return ErrNotOwner
		}

		var target model.GroupMember
		err = tx.Where("group_id = ? AND user_id = ?", groupID, toID).
			First(&target).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotMember
			}
			return err
		}

		if err := tx.Model(&model.GroupMember{}).
			Where("group_id = ? AND user_id = ?", groupID, fromID).
			Update("role", model.RoleAdmin).Error; err != nil {
			return err
		}
		if err := tx.Model(&target).Update("role", model.RoleOwner).Error; err != nil {
			return err
		}
		return tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Update("owner_id", toID).Error
	})
}

// Disband 解散群组
// 群记录保留并标记为disbanded，成员记录全部删除
func (r *GroupRepository) Disband(groupID string, ownerID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		group, err := r.getActiveGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.OwnerID != ownerID {
			return ErrNotOwner
		}

		if err := tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Updates(map[string]interface{}{
				"status":       model.GroupStatusDisbanded,
				"member_count": 0,
			}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", groupID).
			Delete(&model.GroupMember{}).Error
	})
}

// MuteMember 禁言成员
// durationSeconds<=0 表示解除禁言
func (r *GroupRepository) MuteMember(groupID string, userID uint, durationSeconds int64) error {
	var muteUntil int64
	if durationSeconds > 0 {
		muteUntil = time.Now().Unix() + durationSeconds
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if _, err := r.getActiveGroup(tx, groupID); err != nil {
			return err
		}
		result := tx.Model(&model.GroupMember{}).
			Where("group_id = ? AND user_id = ?", groupID, userID).
			Update("mute_until", muteUntil)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotMember
		}
		return nil
	})
}

// Search 按群名模糊搜索活跃群组
func (r *GroupRepository) Search(keyword string, limit int) ([]*model.Group, error) {
	var groups []*model.Group
	err := r.db.Where("name LIKE ? AND status = ?", "%"+keyword+"%", model.GroupStatusActive).
		Limit(limit).
		Find(&groups).Error
	return groups, err
}

// RecountMembers 以成员表行数重算冗余计数（运维补偿）
func (r *GroupRepository) RecountMembers(groupID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.GroupMember{}).
			Where("group_id = ?", groupID).
			Count(&count).Error; err != nil {
			return err
		}
		return tx.Model(&model.Group{}).
			Where("group_id = ?", groupID).
			Update("member_count", count).Error
	})
}
