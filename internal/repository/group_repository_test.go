package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"
)

func TestCreateGroupRegistersOwner(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")

	group, err := repo.CreateGroup("测试群", "desc", owner.ID, nil)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if group.GroupID == "" {
		t.Fatal("GroupID 不应为空")
	}
	if group.MemberCount != 1 {
		t.Errorf("MemberCount = %d, want 1", group.MemberCount)
	}

	role, err := repo.GetRole(group.GroupID, owner.ID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if role != model.RoleOwner {
		t.Errorf("owner role = %q, want owner", role)
	}
}

func TestAddRemoveMemberKeepsCount(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	member := seedUser(t, db, "member")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)

	if err := repo.AddMember(group.GroupID, member.ID, ""); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	// 重复加入应失败
	if err := repo.AddMember(group.GroupID, member.ID, ""); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("重复加入 err = %v, want ErrAlreadyMember", err)
	}

	g, _ := repo.GetGroup(group.GroupID)
	if g.MemberCount != 2 {
		t.Errorf("加人后 MemberCount = %d, want 2", g.MemberCount)
	}

	if err := repo.RemoveMember(group.GroupID, member.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	g, _ = repo.GetGroup(group.GroupID)
	if g.MemberCount != 1 {
		t.Errorf("移除后 MemberCount = %d, want 1", g.MemberCount)
	}
	if ok, _ := repo.IsMember(group.GroupID, member.ID); ok {
		t.Error("移除后不应仍是成员")
	}
}

func TestOwnerCannotLeave(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)
	if err := repo.RemoveMember(group.GroupID, owner.ID); !errors.Is(err, ErrOwnerLeave) {
		t.Errorf("移除群主 err = %v, want ErrOwnerLeave", err)
	}
}

func TestMaxMembersEnforced(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	u1 := seedUser(t, db, "u1")
	u2 := seedUser(t, db, "u2")

	group, _ := repo.CreateGroup("g", "", owner.ID, &model.GroupSettings{
		InvitePermission:  model.InviteAll,
		MessagePermission: model.MessageAll,
		MaxMembers:        2,
	})

	if err := repo.AddMember(group.GroupID, u1.ID, ""); err != nil {
		t.Fatalf("第二个成员应成功: %v", err)
	}
	if err := repo.AddMember(group.GroupID, u2.ID, ""); !errors.Is(err, ErrGroupFull) {
		t.Errorf("超过上限 err = %v, want ErrGroupFull", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	next := seedUser(t, db, "next")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)
	_ = repo.AddMember(group.GroupID, next.ID, "")

	// 非群主不能转让
	if err := repo.TransferOwnership(group.GroupID, next.ID, owner.ID); err == nil {
		t.Error("非群主转让应失败")
	}
	// 转给非成员应失败
	stranger := seedUser(t, db, "stranger")
	if err := repo.TransferOwnership(group.GroupID, owner.ID, stranger.ID); !errors.Is(err, ErrNotMember) {
		t.Errorf("转给非成员 err = %v, want ErrNotMember", err)
	}

	if err := repo.TransferOwnership(group.GroupID, owner.ID, next.ID); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}

	// 转让后三处状态必须一致
	g, _ := repo.GetGroup(group.GroupID)
	if g.OwnerID != next.ID {
		t.Errorf("OwnerID = %d, want %d", g.OwnerID, next.ID)
	}
	if role, _ := repo.GetRole(group.GroupID, next.ID); role != model.RoleOwner {
		t.Errorf("新群主角色 = %q, want owner", role)
	}
	if role, _ := repo.GetRole(group.GroupID, owner.ID); role != model.RoleAdmin {
		t.Errorf("旧群主角色 = %q, want admin", role)
	}
}

func TestDisbandKeepsGroupRow(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	member := seedUser(t, db, "member")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)
	_ = repo.AddMember(group.GroupID, member.ID, "")

	if err := repo.Disband(group.GroupID, member.ID); err == nil {
		t.Error("非群主解散应失败")
	}
	if err := repo.Disband(group.GroupID, owner.ID); err != nil {
		t.Fatalf("Disband: %v", err)
	}

	// 群记录保留，状态置disbanded，成员全部删除
	g, err := repo.GetGroup(group.GroupID)
	if err != nil {
		t.Fatalf("解散后群记录应保留: %v", err)
	}
	if g.Status != model.GroupStatusDisbanded {
		t.Errorf("Status = %q, want disbanded", g.Status)
	}
	members, _ := repo.GetMembers(group.GroupID)
	if len(members) != 0 {
		t.Errorf("解散后成员数 = %d, want 0", len(members))
	}

	// 解散的群拒绝写操作
	if err := repo.AddMember(group.GroupID, member.ID, ""); !errors.Is(err, ErrGroupDisbanded) {
		t.Errorf("向已解散群加人 err = %v, want ErrGroupDisbanded", err)
	}
}

func TestMuteMemberRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	member := seedUser(t, db, "member")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)
	_ = repo.AddMember(group.GroupID, member.ID, "")

	if err := repo.MuteMember(group.GroupID, member.ID, 60); err != nil {
		t.Fatalf("MuteMember: %v", err)
	}
	m, _ := repo.GetMember(group.GroupID, member.ID)
	if !m.IsMuted(time.Now()) {
		t.Error("禁言后 IsMuted 应为 true")
	}

	// duration<=0 解除禁言
	if err := repo.MuteMember(group.GroupID, member.ID, 0); err != nil {
		t.Fatalf("解除禁言: %v", err)
	}
	m, _ = repo.GetMember(group.GroupID, member.ID)
	if m.IsMuted(time.Now()) {
		t.Error("解除后 IsMuted 应为 false")
	}
	if m.MuteUntil != 0 {
		t.Errorf("MuteUntil = %d, want 0", m.MuteUntil)
	}

	// 过期的禁言自动失效
	mRow := &model.GroupMember{}
	db.Where("group_id = ? AND user_id = ?", group.GroupID, member.ID).First(mRow)
	mRow.MuteUntil = time.Now().Add(-time.Minute).Unix()
	if mRow.IsMuted(time.Now()) {
		t.Error("过期禁言 IsMuted 应为 false")
	}
}

func TestUpdateSettingsAndRole(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	member := seedUser(t, db, "member")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)
	_ = repo.AddMember(group.GroupID, member.ID, "")

	if err := repo.UpdateSettings(group.GroupID, map[string]interface{}{
		"mute_all":           true,
		"message_permission": model.MessageAdminOnly,
		"unknown_key":        "ignored",
	}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	g, _ := repo.GetGroup(group.GroupID)
	if !g.Settings.MuteAll {
		t.Error("mute_all 未生效")
	}
	if g.Settings.MessagePermission != model.MessageAdminOnly {
		t.Errorf("message_permission = %q", g.Settings.MessagePermission)
	}

	if err := repo.UpdateRole(group.GroupID, member.ID, model.RoleAdmin); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if role, _ := repo.GetRole(group.GroupID, member.ID); role != model.RoleAdmin {
		t.Errorf("role = %q, want admin", role)
	}
	// owner 角色不可经由 UpdateRole 设置
	if err := repo.UpdateRole(group.GroupID, member.ID, model.RoleOwner); err == nil {
		t.Error("UpdateRole 设置 owner 应失败")
	}
}

func TestRecountMembers(t *testing.T) {
	db := newTestDB(t)
	repo := NewGroupRepository(db)
	owner := seedUser(t, db, "owner")
	member := seedUser(t, db, "member")

	group, _ := repo.CreateGroup("g", "", owner.ID, nil)
	_ = repo.AddMember(group.GroupID, member.ID, "")

	// 人为制造计数偏差
	db.Model(&model.Group{}).Where("group_id = ?", group.GroupID).Update("member_count", 99)

	if err := repo.RecountMembers(group.GroupID); err != nil {
		t.Fatalf("RecountMembers: %v", err)
	}
	g, _ := repo.GetGroup(group.GroupID)
	if g.MemberCount != 2 {
		t.Errorf("重算后 MemberCount = %d, want 2", g.MemberCount)
	}
}
