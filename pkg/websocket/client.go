package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client 代表一个WebSocket连接
// 连接建立即分配ConnectionID，认证成功后才绑定UserID
// UserID/Username/Authenticated 由 Manager 在锁内写入，跨协程读取走 Manager.BoundUser
// Send 通道由写协程消费，永不关闭，连接关闭由 Close 完成

type Client struct {
	ConnectionID string
	Conn         *websocket.Conn
	Send         chan []byte

	UserID        uint
	Username      string
	DeviceID      string
	Authenticated bool

	CreatedAt time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
	lastActivity  time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient 创建连接对象
func NewClient(connectionID string, conn *websocket.Conn, sendBuffer int) *Client {
	now := time.Now()
	return &Client{
		ConnectionID:  connectionID,
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		CreatedAt:     now,
		lastHeartbeat: now,
		lastActivity:  now,
		closed:        make(chan struct{}),
	}
}

// TrySend 非阻塞投递一帧
// 缓冲满说明客户端长时间不消费，返回false由调用方决定淘汰
func (c *Client) TrySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// SendWait 带超时的投递，用于离线消息补推这类必须保序的场景
func (c *Client) SendWait(frame []byte, timeout time.Duration) bool {
	select {
	case c.Send <- frame:
		return true
	case <-c.closed:
		return false
	case <-time.After(timeout):
		return false
	}
}

// Close 关闭连接，幂等
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// Done 连接关闭信号
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// TouchHeartbeat 刷新心跳时间
func (c *Client) TouchHeartbeat() {
	c.mu.Lock()
	now := time.Now()
	c.lastHeartbeat = now
	c.lastActivity = now
	c.mu.Unlock()
}

// TouchActivity 刷新活跃时间
func (c *Client) TouchActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastHeartbeat 最近一次心跳时间
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// LastActivity 最近一次活跃时间
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}
