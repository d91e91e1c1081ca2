package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// PresenceData 在线状态数据
// 权威在线状态来自连接注册表，这里只是供查询侧使用的机会性缓存

type PresenceData struct {
	UserID   uint      `json:"user_id"`
	Username string    `json:"username"`
	Status   string    `json:"status"` // online/offline
	LastSeen time.Time `json:"last_seen"`
}

// 在线状态相关常量
const (
	PresenceKeyPrefix = "im:presence:user:" // 用户在线状态key前缀
	PresenceTTL       = 2 * time.Minute     // 在线状态TTL（2倍心跳周期）
)

func presenceKey(userID uint) string {
	return fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)
}

// SetUserPresence 设置用户在线状态缓存
func SetUserPresence(userID uint, username string, status string) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	presence := PresenceData{
		UserID:   userID,
		Username: username,
		Status:   status,
		LastSeen: time.Now(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("序列化在线状态失败: %w", err)
	}

	if err := client.Set(ctx, presenceKey(userID), data, PresenceTTL).Err(); err != nil {
		return fmt.Errorf("设置用户在线状态失败: %w", err)
	}
	return nil
}

// RefreshUserPresence 刷新用户在线状态（延长TTL）
func RefreshUserPresence(userID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	ok, err := client.Expire(ctx, presenceKey(userID), PresenceTTL).Result()
	if err != nil {
		return fmt.Errorf("刷新用户在线状态失败: %w", err)
	}
	if !ok {
		return fmt.Errorf("用户不在线")
	}
	return nil
}

// RemoveUserPresence 移除用户在线状态缓存
func RemoveUserPresence(userID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	if err := client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("删除用户在线状态失败: %w", err)
	}
	return nil
}
