package main

import (
	"fmt"
	"log"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/config"
	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	dbPkg "github.com/3588044667HZ/LightMessage-backend/pkg/db"
	"github.com/3588044667HZ/LightMessage-backend/pkg/password"

	"gorm.io/gorm"
)

// 重置数据库：删表重建并写入演示数据
func main() {
	cfg := config.LoadConfig()

	db, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer dbPkg.CloseDB()

	fmt.Println("数据库连接成功")
	fmt.Printf("目标数据库: %s\n", cfg.Database.Database)

	fmt.Print("\n警告: 该操作会清空 [message, group_member, im_group, contact, user] 全部数据!\n")
	fmt.Print("输入 'YES' 确认: ")
	var confirm string
	fmt.Scanln(&confirm)
	if confirm != "YES" {
		fmt.Println("操作已取消")
		return
	}

	// 先删子表再删父表
	for _, m := range []interface{}{
		&model.Message{},
		&model.GroupMember{},
		&model.Group{},
		&model.Contact{},
		&model.User{},
	} {
		if db.Migrator().HasTable(m) {
			if err := db.Migrator().DropTable(m); err != nil {
				log.Fatalf("删表失败: %v", err)
			}
		}
	}
	fmt.Println("全部表已删除")

	if err := dbPkg.AutoMigrate(
		&model.User{},
		&model.Contact{},
		&model.Group{},
		&model.GroupMember{},
		&model.Message{},
	); err != nil {
		log.Fatalf("建表失败: %v", err)
	}
	fmt.Println("表结构已重建")

	seed(db)
	fmt.Println("\n数据库重置完成!")
}

// seed 写入演示用户、联系人关系和一个演示群
func seed(db *gorm.DB) {
	users := []struct {
		username string
		nickname string
		plain    string
	}{
		{"alice", "Alice", "alice123"},
		{"bob", "Bob", "bob123456"},
		{"carol", "Carol", "carol12345"},
	}

	created := make([]*model.User, 0, len(users))
	for _, u := range users {
		hash, err := password.Hash(u.plain)
		if err != nil {
			log.Fatalf("生成密码哈希失败: %v", err)
		}
		user := &model.User{
			Username:     u.username,
			Nickname:     u.nickname,
			PasswordHash: hash,
			Status:       model.UserStatusOffline,
			LastSeen:     time.Now(),
		}
		if err := db.Create(user).Error; err != nil {
			log.Fatalf("写入演示用户失败: %v", err)
		}
		created = append(created, user)
		fmt.Printf("演示用户: id=%d username=%s password=%s\n", user.ID, u.username, u.plain)
	}

	// 三人两两互为联系人
	for i := range created {
		for j := range created {
			if i == j {
				continue
			}
			if err := db.Create(&model.Contact{
				UserID:    created[i].ID,
				ContactID: created[j].ID,
			}).Error; err != nil {
				log.Fatalf("写入联系人关系失败: %v", err)
			}
		}
	}
	fmt.Println("联系人关系已写入")

	// 演示群：alice为群主，其余为成员
	group := &model.Group{
		GroupID:     "grp_demo000000000001",
		Name:        "演示群",
		OwnerID:     created[0].ID,
		Description: "重置脚本生成的演示群",
		MemberCount: len(created),
		Status:      model.GroupStatusActive,
		Settings: model.GroupSettings{
			InvitePermission:  model.InviteAll,
			MessagePermission: model.MessageAll,
			MaxMembers:        500,
		},
	}
	if err := db.Create(group).Error; err != nil {
		log.Fatalf("写入演示群失败: %v", err)
	}
	now := time.Now().Unix()
	for i, u := range created {
		role := model.RoleMember
		if i == 0 {
			role = model.RoleOwner
		}
		if err := db.Create(&model.GroupMember{
			GroupID:  group.GroupID,
			UserID:   u.ID,
			Role:     role,
			JoinedAt: now,
		}).Error; err != nil {
			log.Fatalf("写入群成员失败: %v", err)
		}
	}
	fmt.Printf("演示群已写入: group_id=%s\n", group.GroupID)
}
