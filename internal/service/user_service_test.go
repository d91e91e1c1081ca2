package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/config"
	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
	"github.com/3588044667HZ/LightMessage-backend/pkg/jwt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:usersvc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Contact{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	tokens := jwt.NewTokenService(config.JWTConfig{
		Secret: "svc-test", ExpireTime: time.Hour, Issuer: "test",
	})
	return NewUserService(repository.NewUserRepository(db), tokens), db
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newUserService(t)

	cases := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"正常注册", "alice", "secret123", false},
		{"空用户名", "", "secret123", true},
		{"空密码", "bob", "", true},
		{"密码过短", "bob", "abc", true},
		{"重复用户名", "alice", "secret123", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(tc.username, "", tc.password)
			if (err != nil) != tc.wantErr {
				t.Errorf("Register(%q) err = %v, wantErr=%v", tc.username, err, tc.wantErr)
			}
		})
	}
}

func TestRegisterNeverStoresPlaintext(t *testing.T) {
	svc, db := newUserService(t)
	user, err := svc.Register("alice", "Alice", "secret123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var stored model.User
	db.First(&stored, user.ID)
	if stored.PasswordHash == "secret123" || stored.PasswordHash == "" {
		t.Error("密码必须以哈希形式存储")
	}
	if stored.Nickname != "Alice" {
		t.Errorf("Nickname = %q", stored.Nickname)
	}
}

func TestLoginFlow(t *testing.T) {
	svc, _ := newUserService(t)
	user, _ := svc.Register("alice", "", "secret123")

	// 错误密码与不存在的用户返回同一种错误
	if _, _, err := svc.Login(user.ID, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("错误密码 err = %v", err)
	}
	if _, _, err := svc.Login(9999, "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("不存在的用户 err = %v", err)
	}

	got, token, err := svc.Login(user.ID, "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != user.ID || token == "" {
		t.Error("登录结果不符")
	}

	// 签出的token可验证，登出后失效
	if uid, err := svc.VerifyToken(token); err != nil || uid != user.ID {
		t.Errorf("VerifyToken uid=%d err=%v", uid, err)
	}
	if err := svc.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.VerifyToken(token); err == nil {
		t.Error("登出后token应失效")
	}
}

func TestDirectoryListsUsersInOrder(t *testing.T) {
	svc, _ := newUserService(t)

	for _, name := range []string{"alice", "bob", "carol"} {
		if _, err := svc.Register(name, name, name+"12345678"); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	users, err := svc.Directory(0)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("len = %d, want 3", len(users))
	}
	if users[0]["username"] != "alice" || users[2]["username"] != "carol" {
		t.Errorf("通讯录未按ID排序: %v", users)
	}

	limited, err := svc.Directory(2)
	if err != nil {
		t.Fatalf("Directory limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit=2 返回 %d 条", len(limited))
	}
}
