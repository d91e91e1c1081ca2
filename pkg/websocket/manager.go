package websocket

import (
	"errors"
	"sync"
	"time"
)

// Manager 连接注册表
// 三个索引在同一把锁下维护：连接表、用户→连接集、连接→用户
// 同一用户允许多端同时在线，用户索引不保留空集合
type Manager struct {
	lock      sync.RWMutex
	conns     map[string]*Client
	userConns map[uint]map[string]*Client
	connUser  map[string]uint
}

// NewManager 创建连接注册表
func NewManager() *Manager {
	return &Manager{
		conns:     make(map[string]*Client),
		userConns: make(map[uint]map[string]*Client),
		connUser:  make(map[string]uint),
	}
}

// Add 登记新连接（未认证状态）
func (m *Manager) Add(client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.conns[client.ConnectionID] = client
}

// Authenticate 将连接绑定到用户
// 重复认证时先解除旧绑定再建立新绑定
func (m *Manager) Authenticate(connectionID string, userID uint, username, deviceID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	client, ok := m.conns[connectionID]
	if !ok {
		return errors.New("连接不存在")
	}

	if oldUser, bound := m.connUser[connectionID]; bound {
		m.unbindLocked(connectionID, oldUser)
	}

	client.UserID = userID
	client.Username = username
	client.DeviceID = deviceID
	client.Authenticated = true

	m.connUser[connectionID] = userID
	set, ok := m.userConns[userID]
	if !ok {
		set = make(map[string]*Client)
		m.userConns[userID] = set
	}
	set[connectionID] = client
	return nil
}

// unbindLocked 解除用户索引中的绑定，空集合随手删除
func (m *Manager) unbindLocked(connectionID string, userID uint) {
	if set, ok := m.userConns[userID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(m.userConns, userID)
		}
	}
	delete(m.connUser, connectionID)
}

// Remove 注销连接
// 返回锁内快照的用户ID和用户名，以及该用户是否仍有其他在线连接
// 调用方一律使用返回的快照，不再读连接对象上的身份字段
func (m *Manager) Remove(connectionID string) (userID uint, username string, wasBound bool, stillOnline bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	client, ok := m.conns[connectionID]
	if !ok {
		return 0, "", false, false
	}
	delete(m.conns, connectionID)

	if uid, bound := m.connUser[connectionID]; bound {
		m.unbindLocked(connectionID, uid)
		_, still := m.userConns[uid]
		name := client.Username
		client.Authenticated = false
		return uid, name, true, still
	}
	return 0, "", false, false
}

// BoundUser 连接当前绑定用户的锁内快照
// 身份字段的写入都发生在本注册表的锁内，跨协程读取必须走这里
func (m *Manager) BoundUser(connectionID string) (userID uint, username string, ok bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	uid, bound := m.connUser[connectionID]
	if !bound {
		return 0, "", false
	}
	if client, exists := m.conns[connectionID]; exists {
		return uid, client.Username, true
	}
	return uid, "", true
}

// Get 根据连接ID获取连接
func (m *Manager) Get(connectionID string) (*Client, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	client, ok := m.conns[connectionID]
	return client, ok
}

// ConnectionsFor 获取用户的全部在线连接
func (m *Manager) ConnectionsFor(userID uint) []*Client {
	m.lock.RLock()
	defer m.lock.RUnlock()
	set, ok := m.userConns[userID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(set))
	for _, c := range set {
		clients = append(clients, c)
	}
	return clients
}

// IsOnline 用户是否至少有一个在线连接
func (m *Manager) IsOnline(userID uint) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.userConns[userID]
	return ok
}

// OnlineOf 过滤出给定用户中当前在线的
func (m *Manager) OnlineOf(userIDs []uint) []uint {
	m.lock.RLock()
	defer m.lock.RUnlock()
	online := make([]uint, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := m.userConns[id]; ok {
			online = append(online, id)
		}
	}
	return online
}

// Stale 找出心跳超时的连接
func (m *Manager) Stale(timeout time.Duration) []*Client {
	deadline := time.Now().Add(-timeout)
	m.lock.RLock()
	defer m.lock.RUnlock()
	var stale []*Client
	for _, c := range m.conns {
		if c.LastHeartbeat().Before(deadline) {
			stale = append(stale, c)
		}
	}
	return stale
}

// Stats 连接统计
func (m *Manager) Stats() (connections int, onlineUsers int) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.conns), len(m.userConns)
}
