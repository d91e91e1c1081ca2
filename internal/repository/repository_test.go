package repository

import (
	"fmt"
	"testing"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试用独立的内存SQLite
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Contact{},
		&model.Group{},
		&model.GroupMember{},
		&model.Message{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedUser 写入一个测试用户
func seedUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Nickname:     username,
		PasswordHash: "x",
		Status:       model.UserStatusOffline,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user
}
