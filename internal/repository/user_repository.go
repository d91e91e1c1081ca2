package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户数据仓储
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建UserRepository实例
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建用户
func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

// GetByID 根据ID获取用户
func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByUsername 根据用户名获取用户
func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateStatus 更新用户状态和最近在线时间
func (r *UserRepository) UpdateStatus(userID uint, status string) error {
	return r.db.Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"status":    status,
			"last_seen": time.Now(),
		}).Error
}

// UpdateProfile 更新用户资料，只更新给定字段
func (r *UserRepository) UpdateProfile(userID uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.Model(&model.User{}).Where("id = ?", userID).Updates(fields).Error
}

// Search 按用户名或昵称模糊搜索用户
func (r *UserRepository) Search(keyword string, limit int) ([]*model.User, error) {
	var users []*model.User
	pattern := "%" + keyword + "%"
	err := r.db.Where("username LIKE ? OR nickname LIKE ?", pattern, pattern).
		Limit(limit).
		Find(&users).Error
	return users, err
}

// ListAll 列出全部用户（通讯录场景）
func (r *UserRepository) ListAll(limit int) ([]*model.User, error) {
	var users []*model.User
	err := r.db.Order("id ASC").Limit(limit).Find(&users).Error
	return users, err
}

// AddContact 互加联系人
// 两个方向的关系行在同一事务内写入，任一方向已存在则整体失败
func (r *UserRepository) AddContact(userID, contactID uint) error {
	if userID == contactID {
		return errors.New("不能添加自己为联系人")
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var peer model.User
		if err := tx.First(&peer, contactID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("用户不存在")
			}
			return err
		}

		var count int64
		if err := tx.Model(&model.Contact{}).
			Where("user_id = ? AND contact_id = ?", userID, contactID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.New("已经是联系人")
		}

		rows := []model.Contact{
			{UserID: userID, ContactID: contactID},
			{UserID: contactID, ContactID: userID},
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("添加联系人失败: %w", err)
		}
		return nil
	})
}

// RemoveContact 互删联系人，两个方向在同一事务内删除
func (r *UserRepository) RemoveContact(userID, contactID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND contact_id = ?", userID, contactID).
			Delete(&model.Contact{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.New("不是联系人")
		}
		return tx.Where("user_id = ? AND contact_id = ?", contactID, userID).
			Delete(&model.Contact{}).Error
	})
}

// GetContacts 获取用户的联系人列表
func (r *UserRepository) GetContacts(userID uint) ([]*model.User, error) {
	var users []*model.User
	err := r.db.
		Joins("JOIN contact ON contact.contact_id = user.id").
		Where("contact.user_id = ?", userID).
		Order("user.username ASC").
		Find(&users).Error
	return users, err
}

// GetContactIDs 获取联系人ID列表（在线状态广播用）
func (r *UserRepository) GetContactIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.Contact{}).
		Where("user_id = ?", userID).
		Pluck("contact_id", &ids).Error
	return ids, err
}

// IsContact 判断两个用户是否为联系人
func (r *UserRepository) IsContact(userID, contactID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.Contact{}).
		Where("user_id = ? AND contact_id = ?", userID, contactID).
		Count(&count).Error
	return count > 0, err
}
