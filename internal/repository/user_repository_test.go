package repository

import (
	"testing"
)

func TestAddContactSymmetric(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	a := seedUser(t, db, "a")
	b := seedUser(t, db, "b")

	if err := repo.AddContact(a.ID, b.ID); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	// 两个方向都能看到
	if ok, _ := repo.IsContact(a.ID, b.ID); !ok {
		t.Error("a->b 应为联系人")
	}
	if ok, _ := repo.IsContact(b.ID, a.ID); !ok {
		t.Error("b->a 应为联系人")
	}

	// 重复添加失败
	if err := repo.AddContact(a.ID, b.ID); err == nil {
		t.Error("重复添加应失败")
	}
	// 反向重复同样失败
	if err := repo.AddContact(b.ID, a.ID); err == nil {
		t.Error("反向重复添加应失败")
	}
}

func TestAddContactValidation(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	a := seedUser(t, db, "a")

	if err := repo.AddContact(a.ID, a.ID); err == nil {
		t.Error("加自己应失败")
	}
	if err := repo.AddContact(a.ID, 999); err == nil {
		t.Error("加不存在的用户应失败")
	}
}

func TestRemoveContactSymmetric(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	a := seedUser(t, db, "a")
	b := seedUser(t, db, "b")

	_ = repo.AddContact(a.ID, b.ID)
	if err := repo.RemoveContact(a.ID, b.ID); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	if ok, _ := repo.IsContact(a.ID, b.ID); ok {
		t.Error("a->b 应已删除")
	}
	if ok, _ := repo.IsContact(b.ID, a.ID); ok {
		t.Error("b->a 应已删除")
	}
	if err := repo.RemoveContact(a.ID, b.ID); err == nil {
		t.Error("重复删除应失败")
	}
}

func TestGetContactsAndIDs(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	a := seedUser(t, db, "a")
	b := seedUser(t, db, "b")
	c := seedUser(t, db, "c")

	_ = repo.AddContact(a.ID, b.ID)
	_ = repo.AddContact(a.ID, c.ID)

	contacts, err := repo.GetContacts(a.ID)
	if err != nil {
		t.Fatalf("GetContacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len = %d, want 2", len(contacts))
	}

	ids, _ := repo.GetContactIDs(b.ID)
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("b的联系人 = %v, want [%d]", ids, a.ID)
	}
}

func TestSearchUsers(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	seedUser(t, db, "alice")
	seedUser(t, db, "alina")
	seedUser(t, db, "bob")

	users, err := repo.Search("ali", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len = %d, want 2", len(users))
	}
}

func TestUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	a := seedUser(t, db, "a")

	if err := repo.UpdateStatus(a.ID, "online"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := repo.GetByID(a.ID)
	if got.Status != "online" {
		t.Errorf("Status = %q, want online", got.Status)
	}
	if got.LastSeen.IsZero() {
		t.Error("LastSeen 应被更新")
	}
}
