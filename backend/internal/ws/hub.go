package ws

import (
	"sync"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/cache"
)

type Hub struct {
	// 接口实例（一般是 Redis 实现的客户端句柄）。它本身不"存数据"，
	// 而是提供对外部存储的读写能力，用来落地/共享在线状态与光标信息
	presence cache.PresenceCache
	// 读写锁，保护 rooms 在并发下安全访问。加入/离开房间、广播时都会先加锁。
	mu sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		// 房间里存的是连接而不是用户：一个用户可开多个标签页/设备，
		// 广播要逐连接发
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除。
// 返回 true 表示房间已空（上层可以丢弃对应的复制会话状态）。
func (h *Hub) Leave(docID string, c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
			return true
		}
	}
	return false
}

// snapshot 在锁内把房间成员拷贝成切片。广播时 Join/Leave 可能并发改
// rooms 里的 map，迭代必须走快照而不是活 map
func (h *Hub) snapshot(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) BroadcastPresence(docID string, members []PresenceMember) {
	msg := ServerMessage{Type: "presence", DocID: docID, Members: members}
	for _, c := range h.snapshot(docID) {
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastCursor(docID string, origin *Conn, connID string, rng interface{}) {
	msg := ServerMessage{Type: "cursor", DocID: docID, ConnID: connID, Range: rng}
	for _, c := range h.snapshot(docID) {
		if c == origin {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}
