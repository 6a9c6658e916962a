package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
		"",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h    *Hub
	deps *Deps
}

func NewManager(h *Hub, deps *Deps) *Manager {
	return &Manager{h: h, deps: deps}
}

// WebSocketConnect 把一个 HTTP 请求升级成协作连接。
// 身份线索从 query 取：memberId 是持久成员 id（可缺省，访客没有），
// displayName/avatarUrl 是传输层自带的展示元数据。每个连接分配独立的
// connID——同一用户的多个标签页是多个连接。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	identityHint := strings.TrimSpace(c.Query("memberId"))
	var info *identity.Info
	if name := strings.TrimSpace(c.Query("displayName")); name != "" {
		info = &identity.Info{
			DisplayName: name,
			AvatarURL:   strings.TrimSpace(c.Query("avatarUrl")),
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	wsConn := NewConn(conn, m.h, connID, identityHint, info, m.deps)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.SendMessage_Enqueue(ServerMessage{Type: "welcome", ConnID: connID})

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(c.Request.Context())
}
