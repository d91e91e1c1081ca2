package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 长连接压测工具
// 建立N个连接并登录，按固定速率互发私聊消息，统计响应延迟
//
// 用法:
//   go run tools/bench/main.go -url ws://localhost:8080/ws -conns 100 -rate 5 -duration 60s
//
// 需要先用 tools/reset_db 或注册接口准备好 -first-id 起连续的测试账号

var (
	serverURL = flag.String("url", "ws://localhost:8080/ws", "WebSocket地址")
	conns     = flag.Int("conns", 50, "并发连接数")
	firstID   = flag.Uint("first-id", 1, "起始用户ID(连续编号)")
	passwd    = flag.String("password", "bench123456", "测试账号统一密码")
	rate      = flag.Float64("rate", 1, "每连接每秒发送消息数")
	duration  = flag.Duration("duration", 30*time.Second, "压测时长")
)

type envelope struct {
	Endpoint  string          `json:"endpoint"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type frame struct {
	Endpoint  string          `json:"endpoint"`
	Code      int             `json:"code"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type stats struct {
	sent      int64
	responses int64
	errors    int64
	pushes    int64
	totalRTT  int64 // 纳秒
	maxRTT    int64
}

func (s *stats) recordRTT(d time.Duration) {
	atomic.AddInt64(&s.responses, 1)
	atomic.AddInt64(&s.totalRTT, int64(d))
	for {
		old := atomic.LoadInt64(&s.maxRTT)
		if int64(d) <= old || atomic.CompareAndSwapInt64(&s.maxRTT, old, int64(d)) {
			return
		}
	}
}

type client struct {
	userID  uint
	conn    *websocket.Conn
	token   string
	st      *stats
	pending sync.Map // request_id -> 发送时间
}

func dial(userID uint, st *stats) (*client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		return nil, err
	}
	c := &client{userID: userID, conn: conn, st: st}

	// 欢迎帧
	if _, _, err := conn.ReadMessage(); err != nil {
		conn.Close()
		return nil, err
	}

	// 登录
	loginData, _ := json.Marshal(map[string]interface{}{
		"userid":    userID,
		"password":  *passwd,
		"device_id": "bench",
	})
	reqID := uuid.NewString()
	if err := c.send(&envelope{Endpoint: "/auth/login", RequestID: reqID, Data: loginData}); err != nil {
		conn.Close()
		return nil, err
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			conn.Close()
			return nil, err
		}
		if f.RequestID != reqID {
			continue
		}
		if f.Code != 200 {
			conn.Close()
			return nil, fmt.Errorf("用户%d登录失败: code=%d", userID, f.Code)
		}
		var body struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(f.Data, &body)
		c.token = body.Token
		return c, nil
	}
}

func (c *client) send(e *envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// readLoop 消费响应与推送，按request_id配对计算往返延迟
func (c *client) readLoop(done <-chan struct{}) {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-done:
			default:
				atomic.AddInt64(&c.st.errors, 1)
			}
			return
		}
		if f.RequestID == "" {
			atomic.AddInt64(&c.st.pushes, 1)
			continue
		}
		if start, ok := c.pending.LoadAndDelete(f.RequestID); ok {
			c.st.recordRTT(time.Since(start.(time.Time)))
		}
		if f.Code >= 400 {
			atomic.AddInt64(&c.st.errors, 1)
		}
	}
}

// sendLoop 按速率向随机的其他测试账号发私聊消息
func (c *client) sendLoop(done <-chan struct{}, peers []uint) {
	interval := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			peer := peers[rand.Intn(len(peers))]
			if peer == c.userID {
				continue
			}
			content, _ := json.Marshal(map[string]string{"text": "bench message"})
			data, _ := json.Marshal(map[string]interface{}{
				"token":         c.token,
				"receiver_id":   peer,
				"type":          "text",
				"content":       json.RawMessage(content),
				"client_msg_id": uuid.NewString(),
			})
			reqID := uuid.NewString()
			c.pending.Store(reqID, time.Now())
			if err := c.send(&envelope{Endpoint: "/message/send", RequestID: reqID, Data: data}); err != nil {
				atomic.AddInt64(&c.st.errors, 1)
				return
			}
			atomic.AddInt64(&c.st.sent, 1)
		}
	}
}

// heartbeatLoop 维持心跳避免被巡检淘汰
func (c *client) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			data, _ := json.Marshal(map[string]int64{"timestamp": time.Now().Unix()})
			_ = c.send(&envelope{Endpoint: "/heartbeat", Data: data})
		}
	}
}

func main() {
	flag.Parse()

	peers := make([]uint, *conns)
	for i := range peers {
		peers[i] = *firstID + uint(i)
	}

	st := &stats{}
	done := make(chan struct{})
	var wg sync.WaitGroup

	fmt.Printf("建立 %d 个连接...\n", *conns)
	clients := make([]*client, 0, *conns)
	for _, userID := range peers {
		c, err := dial(userID, st)
		if err != nil {
			log.Printf("连接失败: %v", err)
			continue
		}
		clients = append(clients, c)
	}
	fmt.Printf("已登录 %d/%d\n", len(clients), *conns)
	if len(clients) == 0 {
		log.Fatal("没有可用连接")
	}

	start := time.Now()
	for _, c := range clients {
		wg.Add(3)
		go func(c *client) { defer wg.Done(); c.readLoop(done) }(c)
		go func(c *client) { defer wg.Done(); c.sendLoop(done, peers) }(c)
		go func(c *client) { defer wg.Done(); c.heartbeatLoop(done) }(c)
	}

	// 压测期间定期打印进度
	progress := time.NewTicker(5 * time.Second)
	deadline := time.After(*duration)
loop:
	for {
		select {
		case <-progress.C:
			fmt.Printf("[%s] sent=%d resp=%d push=%d err=%d goroutines=%d\n",
				time.Since(start).Round(time.Second),
				atomic.LoadInt64(&st.sent),
				atomic.LoadInt64(&st.responses),
				atomic.LoadInt64(&st.pushes),
				atomic.LoadInt64(&st.errors),
				runtime.NumGoroutine())
		case <-deadline:
			break loop
		}
	}
	progress.Stop()
	close(done)
	for _, c := range clients {
		_ = c.conn.Close()
	}
	wg.Wait()

	elapsed := time.Since(start)
	sent := atomic.LoadInt64(&st.sent)
	responses := atomic.LoadInt64(&st.responses)
	fmt.Println("\n===== 压测结果 =====")
	fmt.Printf("时长:       %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("连接数:     %d\n", len(clients))
	fmt.Printf("发送消息:   %d (%.1f msg/s)\n", sent, float64(sent)/elapsed.Seconds())
	fmt.Printf("收到响应:   %d\n", responses)
	fmt.Printf("收到推送:   %d\n", atomic.LoadInt64(&st.pushes))
	fmt.Printf("错误:       %d\n", atomic.LoadInt64(&st.errors))
	if responses > 0 {
		avg := time.Duration(atomic.LoadInt64(&st.totalRTT) / responses)
		fmt.Printf("平均延迟:   %s\n", avg.Round(time.Microsecond))
		fmt.Printf("最大延迟:   %s\n", time.Duration(atomic.LoadInt64(&st.maxRTT)).Round(time.Microsecond))
	}
}
