package redis

import (
	"fmt"
	"time"
)

// 离线消息相关常量
const (
	OfflineKeyPrefix = "im:offline:"      // 离线信封key前缀
	OfflineTTL       = 7 * 24 * time.Hour // 7天过期
	OfflineMaxLen    = 1000               // 每用户最多保留的信封数
)

// OfflineStore 基于Redis列表的离线信封存储
// 信封按入队顺序追加（RPUSH），Drain 按同样顺序返回且不清空
// 只有 Clear 才删除，调用方确认送达后再清空，重复投递优于丢失

type OfflineStore struct{}

// NewOfflineStore 创建离线存储
// 复用包级Redis客户端，需先 InitRedis
func NewOfflineStore() *OfflineStore {
	return &OfflineStore{}
}

func offlineKey(userID uint) string {
	return fmt.Sprintf("%s%d", OfflineKeyPrefix, userID)
}

// Enqueue 追加一条离线信封
// payload 必须是本应实时推送的出站消息原文，逐字节保存
func (s *OfflineStore) Enqueue(userID uint, payload []byte) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := offlineKey(userID)

	if err := client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("追加离线信封失败: %w", err)
	}

	// 设置TTL并限制长度（裁掉最旧的）
	if err := client.Expire(ctx, key, OfflineTTL).Err(); err != nil {
		return fmt.Errorf("设置离线信封TTL失败: %w", err)
	}
	if err := client.LTrim(ctx, key, -OfflineMaxLen, -1).Err(); err != nil {
		return fmt.Errorf("限制离线信封数量失败: %w", err)
	}

	return nil
}

// Drain 按入队顺序返回用户的全部离线信封，不清空
func (s *OfflineStore) Drain(userID uint) ([][]byte, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	results, err := client.LRange(ctx, offlineKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取离线信封失败: %w", err)
	}

	payloads := make([][]byte, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, []byte(r))
	}
	return payloads, nil
}

// Clear 清空用户的离线信封
func (s *OfflineStore) Clear(userID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	if err := client.Del(ctx, offlineKey(userID)).Err(); err != nil {
		return fmt.Errorf("清空离线信封失败: %w", err)
	}
	return nil
}

// Count 用户离线信封数量
func (s *OfflineStore) Count(userID uint) (int64, error) {
	if client == nil {
		return 0, fmt.Errorf("redis客户端未初始化")
	}

	count, err := client.LLen(ctx, offlineKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("获取离线信封数量失败: %w", err)
	}
	return count, nil
}
