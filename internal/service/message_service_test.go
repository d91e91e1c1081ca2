package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/repository"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type msgEnv struct {
	svc       *MessageService
	groupRepo *repository.GroupRepository
	db        *gorm.DB
	owner     *model.User
	admin     *model.User
	member    *model.User
	groupID   string
}

func newMsgEnv(t *testing.T) *msgEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:msgsvc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Contact{},
		&model.Group{}, &model.GroupMember{}, &model.Message{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	svc := NewMessageService(msgRepo, userRepo, groupRepo)

	mk := func(name string) *model.User {
		u := &model.User{Username: name, PasswordHash: "x"}
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		return u
	}
	owner, admin, member := mk("owner"), mk("admin"), mk("member")

	group, err := groupRepo.CreateGroup("g", "", owner.ID, nil)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	_ = groupRepo.AddMember(group.GroupID, admin.ID, model.RoleAdmin)
	_ = groupRepo.AddMember(group.GroupID, member.ID, model.RoleMember)

	return &msgEnv{svc: svc, groupRepo: groupRepo, db: db,
		owner: owner, admin: admin, member: member, groupID: group.GroupID}
}

func TestSavePrivateValidation(t *testing.T) {
	env := newMsgEnv(t)

	if _, err := env.svc.SavePrivate(env.owner.ID, env.owner.ID, "", "{}", ""); !errors.Is(err, ErrSelfMessage) {
		t.Errorf("自发消息 err = %v", err)
	}
	if _, err := env.svc.SavePrivate(env.owner.ID, 9999, "", "{}", ""); !errors.Is(err, ErrReceiverNotFound) {
		t.Errorf("接收者不存在 err = %v", err)
	}

	m, err := env.svc.SavePrivate(env.owner.ID, env.member.ID, "", `{"text":"hi"}`, "cli-1")
	if err != nil {
		t.Fatalf("SavePrivate: %v", err)
	}
	if m.MessageID == "" || m.MsgType != model.MsgTypeText || m.IsGroup {
		t.Errorf("消息字段不符: %+v", m)
	}
}

func TestSaveGroupNonMemberRejected(t *testing.T) {
	env := newMsgEnv(t)
	stranger := &model.User{Username: "stranger", PasswordHash: "x"}
	env.db.Create(stranger)

	if _, err := env.svc.SaveGroup(stranger.ID, env.groupID, "", "{}", "", nil, false); !errors.Is(err, repository.ErrNotMember) {
		t.Errorf("非成员发言 err = %v", err)
	}
}

func TestSaveGroupMuteAllExemptsStaff(t *testing.T) {
	env := newMsgEnv(t)
	if err := env.groupRepo.UpdateSettings(env.groupID, map[string]interface{}{"mute_all": true}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	// 全员禁言拦普通成员
	if _, err := env.svc.SaveGroup(env.member.ID, env.groupID, "", "{}", "", nil, false); !errors.Is(err, ErrMuted) {
		t.Errorf("普通成员 err = %v, want ErrMuted", err)
	}
	// 管理员和群主不受影响
	if _, err := env.svc.SaveGroup(env.admin.ID, env.groupID, "", "{}", "", nil, false); err != nil {
		t.Errorf("管理员 err = %v", err)
	}
	if _, err := env.svc.SaveGroup(env.owner.ID, env.groupID, "", "{}", "", nil, false); err != nil {
		t.Errorf("群主 err = %v", err)
	}
}

func TestSaveGroupAdminOnlyPermission(t *testing.T) {
	env := newMsgEnv(t)
	if err := env.groupRepo.UpdateSettings(env.groupID, map[string]interface{}{
		"message_permission": model.MessageAdminOnly,
	}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	if _, err := env.svc.SaveGroup(env.member.ID, env.groupID, "", "{}", "", nil, false); !errors.Is(err, ErrNoSendPermission) {
		t.Errorf("普通成员 err = %v, want ErrNoSendPermission", err)
	}
	if _, err := env.svc.SaveGroup(env.admin.ID, env.groupID, "", "{}", "", nil, false); err != nil {
		t.Errorf("管理员 err = %v", err)
	}
}

func TestSaveGroupPersonalMute(t *testing.T) {
	env := newMsgEnv(t)
	if err := env.groupRepo.MuteMember(env.groupID, env.member.ID, 60); err != nil {
		t.Fatalf("MuteMember: %v", err)
	}

	if _, err := env.svc.SaveGroup(env.member.ID, env.groupID, "", "{}", "", nil, false); !errors.Is(err, ErrMuted) {
		t.Errorf("禁言成员 err = %v, want ErrMuted", err)
	}

	// 被拒的消息不落库
	var count int64
	env.db.Model(&model.Message{}).Count(&count)
	if count != 0 {
		t.Errorf("消息库应为空, count=%d", count)
	}

	// 解除后可以发
	_ = env.groupRepo.MuteMember(env.groupID, env.member.ID, 0)
	if _, err := env.svc.SaveGroup(env.member.ID, env.groupID, "", `{"text":"ok"}`, "", nil, false); err != nil {
		t.Errorf("解除禁言后 err = %v", err)
	}
}

func TestGroupHistoryMembersOnly(t *testing.T) {
	env := newMsgEnv(t)
	if _, err := env.svc.SaveGroup(env.owner.ID, env.groupID, "", `{"text":"a"}`, "", nil, false); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	stranger := &model.User{Username: "stranger", PasswordHash: "x"}
	env.db.Create(stranger)
	if _, err := env.svc.GroupHistory(stranger.ID, env.groupID, repository.HistoryQuery{}); !errors.Is(err, repository.ErrNotMember) {
		t.Errorf("非成员拉历史 err = %v", err)
	}

	msgs, err := env.svc.GroupHistory(env.member.ID, env.groupID, repository.HistoryQuery{})
	if err != nil {
		t.Fatalf("GroupHistory: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("len = %d, want 1", len(msgs))
	}
}
