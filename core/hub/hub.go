// Package hub 把阶段变更事件推送给 WebSocket 客户端。
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"CollabFM/logger"
	"CollabFM/model"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeSubscribe   MessageType = "subscribe"    // 客户端 -> 服务端：只接收指定合作的事件
	MsgTypeSubscribed  MessageType = "subscribed"   // 订阅确认
	MsgTypeStageChange MessageType = "stage_change" // 阶段变更
	MsgTypePing        MessageType = "ping"
	MsgTypePong        MessageType = "pong"
	MsgTypeError       MessageType = "error"
)

const (
	sendBuffer   = 32
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type             MessageType     `json:"type"`
	CollaborationIDs []string        `json:"collaborationIds,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	Timestamp        int64           `json:"timestamp"`
}

// Client 一个 WebSocket 连接
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter map[string]bool // 为空表示接收全部
	closed bool
}

// trySend 非阻塞写入发送队列，连接已关闭或队列满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(collabID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filter) == 0 || c.filter[collabID]
}

func (c *Client) setFilter(ids []string) {
	f := make(map[string]bool, len(ids))
	for _, id := range ids {
		f[id] = true
	}
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// Hub 管理连接并广播事件。所有连接状态只在 Run 的 goroutine 中修改。
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan model.StageEvent
	done       chan struct{} // Run 退出后关闭

	mu    sync.RWMutex
	count int
}

func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan model.StageEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run 处理注册与广播，ctx 结束时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			logger.Debug("[Hub] 客户端已连接", logger.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			h.remove(c)

		case ev := <-h.broadcast:
			h.fanout(ev)

		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	c.close()
	h.setCount(len(h.clients))
}

func (h *Hub) fanout(ev model.StageEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("[Hub] 事件序列化失败", logger.ErrorField(err))
		return
	}
	msg, err := encode(&WSMessage{Type: MsgTypeStageChange, Data: data})
	if err != nil {
		return
	}

	for c := range h.clients {
		if !c.wants(ev.CollaborationID) {
			continue
		}
		if !c.trySend(msg) {
			// 发送缓冲满，断开慢客户端
			h.remove(c)
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish 广播一个事件，队列满时丢弃
func (h *Hub) Publish(ev model.StageEvent) {
	select {
	case h.broadcast <- ev:
	default:
		logger.Warn("[Hub] 广播队列已满，丢弃事件", logger.String("collaboration", ev.CollaborationID))
	}
}

// Feed 把订阅到的事件转发给所有客户端，直到 events 关闭或 ctx 结束
func (h *Hub) Feed(ctx context.Context, events <-chan model.StageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Publish(ev)
		}
	}
}

// Serve 接管一个已升级的连接，阻塞到连接关闭
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-ctx.Done():
		conn.Close()
		return
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump(ctx)
}

func encode(msg *WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UnixMilli()
	return json.Marshal(msg)
}

func (c *Client) reply(msg *WSMessage) {
	if data, err := encode(msg); err == nil {
		c.trySend(data)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("[Hub] websocket read error", logger.ErrorField(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(&WSMessage{Type: MsgTypeError, Data: json.RawMessage(`"invalid message"`)})
			continue
		}

		switch msg.Type {
		case MsgTypePing:
			c.reply(&WSMessage{Type: MsgTypePong})
		case MsgTypeSubscribe:
			c.setFilter(msg.CollaborationIDs)
			c.reply(&WSMessage{Type: MsgTypeSubscribed, CollaborationIDs: msg.CollaborationIDs})
		default:
			c.reply(&WSMessage{Type: MsgTypeError, Data: json.RawMessage(`"unknown message type"`)})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
