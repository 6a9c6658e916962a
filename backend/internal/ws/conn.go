package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/persist"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/presence"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/replica"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/store"
)

// Deps 是一个连接需要的全部服务句柄（由 main 装配，Manager 持有）。
type Deps struct {
	Store     *replica.Store
	Gate      *persist.Gate
	Tracker   *presence.Tracker
	Coord     *presence.Coordinator
	Documents *store.DocumentStore
	Debounce  time.Duration
}

type Conn struct {
	ws     *websocket.Conn
	hub    *Hub
	connID string
	// 传输层带来的身份线索和展示元数据，交给 IdentityResolver 用
	identityHint string
	info         *identity.Info

	docID       string
	buffer      *replica.EditBuffer
	unsubscribe func()

	// send 是出站消息队列，writeLoop 持续消费
	send chan OutboundMessage
	// done 关闭后连接不再接收出站消息。订阅回调可能从别的客户端的
	// 写入 goroutine 晚到，不能直接 close(send)，否则会 panic
	done      chan struct{}
	closeOnce sync.Once

	deps *Deps
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string { return m.Type }
func (m StateMessage) MessageType() string  { return m.Type }

func NewConn(ws *websocket.Conn, hub *Hub, connID, identityHint string, info *identity.Info, deps *Deps) *Conn {
	return &Conn{
		ws:           ws,
		hub:          hub,
		connID:       connID,
		identityHint: identityHint,
		info:         info,
		send:         make(chan OutboundMessage, 32),
		done:         make(chan struct{}),
		deps:         deps,
	}
}

func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		// 队列满了就丢弃。广播是 at-least-once + 幂等合并，
		// 丢一条状态推送客户端靠后续推送追平
	}
}

// touch 记录一次本地可观测的活动信号并重算 live 谓词。
// 注意只在主动行为（击键/光标/心跳）时调用，收到别人广播不算活动。
func (c *Conn) touch(ctx context.Context) {
	if c.docID == "" {
		return
	}
	c.deps.Tracker.Upsert(c.docID, c.connID, c.identityHint, c.info)
	if err := c.hub.presence.AddMember(ctx, c.docID, c.connID, c.displayName(), presence.ActivityWindow); err != nil {
		log.Printf("presence cache add member error: %v", err)
	}
	c.deps.Coord.Recompute(ctx, c.docID)
}

func (c *Conn) displayName() string {
	if c.info != nil && c.info.DisplayName != "" {
		return c.info.DisplayName
	}
	return "User " + c.connID
}

// handleJoin 打开一个文档会话。
// 复制状态不存在（所有人都断开过）时从持久层的 Document 重建。
func (c *Conn) handleJoin(ctx context.Context, docID string) {
	if docID == "" {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "MISSING_DOC_ID"})
		return
	}
	if c.docID == docID {
		// 重复 join 幂等：只当一次活动信号
		c.touch(ctx)
		return
	}
	if c.docID != "" {
		// 先离开旧房间
		c.detach(ctx)
	}

	st, ok := c.deps.Store.Read(docID)
	if !ok {
		doc, err := c.deps.Documents.GetDocument(ctx, docID)
		if err != nil {
			if errors.Is(err, store.ErrDocumentNotFound) {
				c.SendMessage_Enqueue(ServerMessage{Type: "error", DocID: docID, Content: "DOC_NOT_FOUND"})
				return
			}
			log.Printf("load document error (doc=%s): %v", docID, err)
			c.SendMessage_Enqueue(ServerMessage{Type: "error", DocID: docID, Content: "LOAD_DOC_FAILED"})
			return
		}
		st = c.deps.Store.Seed(docID, doc.Content, doc.Title)
	}

	c.docID = docID
	c.buffer = replica.NewEditBuffer(docID, c.connID, st, c.deps.Store, c.deps.Gate, c.deps.Debounce)
	// 订阅该文档的广播。自己的回声按 origin 过滤掉——缓冲区只合并
	// 真正来自别人的更新
	// 订阅回调从别的客户端的写路径进来，和 detach 并发；消息只从
	// 闭包捕获的 buf/docID 组装，不碰 c 上会被置 nil 的字段
	buf := c.buffer
	c.unsubscribe = c.deps.Store.Subscribe(docID, func(_ string, remote replica.State, origin string) {
		if origin == c.connID {
			return
		}
		buf.OnRemoteUpdate(remote)
		c.SendMessage_Enqueue(stateMessage(docID, buf, remote))
	})

	c.hub.Join(docID, c)
	c.touch(ctx)
	c.SendMessage_Enqueue(stateMessage(docID, buf, st))
	c.replayCursors(ctx, docID)
}

// replayCursors 把同房间成员已落到共享存储的光标回放给新加入者，
// 新标签页/别的实例上的加入者不用等下一次光标移动才看到别人在哪
func (c *Conn) replayCursors(ctx context.Context, docID string) {
	members, err := c.hub.presence.GetAliveMembersWithNames(ctx, docID)
	if err != nil {
		log.Printf("replay cursors error (doc=%s): %v", docID, err)
		return
	}
	for _, m := range members {
		if m.ConnID == c.connID {
			continue
		}
		raw, err := c.hub.presence.GetCursor(ctx, docID, m.ConnID)
		if err != nil {
			// 没光标或已过期，跳过
			continue
		}
		var rng interface{}
		if json.Unmarshal(raw, &rng) == nil {
			c.SendMessage_Enqueue(ServerMessage{Type: "cursor", DocID: docID, ConnID: m.ConnID, Range: rng})
		}
	}
}

func stateMessage(docID string, buf *replica.EditBuffer, st replica.State) StateMessage {
	return StateMessage{
		Type:           "state",
		DocID:          docID,
		Content:        buf.Content(),
		Title:          buf.Title(),
		LastModified:   st.LastModified,
		LastModifiedBy: st.LastModifiedBy,
		Dirty:          buf.Dirty(),
	}
}

func (c *Conn) handleEdit(ctx context.Context, msg ClientMessage) {
	if c.buffer == nil || c.docID == "" {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "NOT_JOINED"})
		return
	}
	field := replica.FieldContent
	if msg.Field == string(replica.FieldTitle) {
		field = replica.FieldTitle
	}
	// 本地状态同步生效，写穿到复制层，重置防抖；都在缓冲区里完成
	c.buffer.OnLocalEdit(field, msg.Value)
	// 击键是活动信号
	c.touch(ctx)
}

// detach 退出当前文档：取消订阅、离开房间、删 presence 记录、
// 尽力做最后一次落盘（不等待结果）。
func (c *Conn) detach(ctx context.Context) {
	if c.docID == "" {
		return
	}
	docID := c.docID
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	empty := c.hub.Leave(docID, c)
	c.deps.Tracker.Remove(docID, c.connID)
	if err := c.hub.presence.RemoveMember(ctx, docID, c.connID); err != nil {
		log.Printf("presence cache remove member error: %v", err)
	}
	c.deps.Coord.Recompute(ctx, docID)

	if buf := c.buffer; buf != nil {
		// 最后一次落盘是 best-effort：不阻塞断开/切换文档
		go func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			buf.Close(flushCtx)
		}()
	}
	if empty {
		// 房间空了，丢弃复制会话；下次 join 从 Document 重建
		c.deps.Store.Drop(docID)
		c.deps.Gate.Cancel(docID)
	}
	c.docID = ""
	c.buffer = nil
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.closeOnce.Do(func() { close(c.done) })
	defer c.detach(context.Background())
	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			log.Printf("read json error (conn=%s, doc=%s): %v", c.connID, c.docID, err)
			return
		}
		switch clientMessage.Type {
		case "join":
			c.handleJoin(ctx, clientMessage.DocID)

		case "edit":
			c.handleEdit(ctx, clientMessage)

		case "heartbeat":
			c.touch(ctx)
			members, err := c.hub.presence.GetAliveMembersWithNames(ctx, c.docID)
			if err != nil {
				log.Printf("get members error: %v", err)
			}
			out := make([]PresenceMember, len(members))
			for i, m := range members {
				out[i] = PresenceMember{ConnID: m.ConnID, DisplayName: m.DisplayName}
			}
			// 花名册推给整个房间：别人的心跳也会刷新这里的在线视图，
			// 不用每个客户端各自轮询
			c.hub.BroadcastPresence(c.docID, out)

		case "cursor":
			if c.docID == "" {
				continue
			}
			c.touch(ctx)
			// 光标先落共享存储（跨实例、join 回放用），再进程内广播
			if raw, err := json.Marshal(clientMessage.Range); err == nil {
				if err := c.hub.presence.SetCursor(ctx, c.docID, c.connID, raw, presence.ActivityWindow); err != nil {
					log.Printf("set cursor error: %v", err)
				}
			}
			c.hub.BroadcastCursor(c.docID, c, c.connID, clientMessage.Range)

		case "save":
			// 显式 "force sync"：失败后的重试入口之一
			if c.buffer == nil {
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "NOT_JOINED"})
				continue
			}
			if err := c.buffer.ForceFlush(ctx); err != nil {
				log.Printf("force flush error (doc=%s): %v", c.docID, err)
				c.SendMessage_Enqueue(ServerMessage{Type: "save", DocID: c.docID, Content: "unsaved"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "save", DocID: c.docID, Content: "saved"})

		case "leave":
			c.detach(ctx)

		default:
			// 忽略未知类型，或回一条提示
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息，直到连接结束
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.WriteJSON(msg)
		case <-c.done:
			return
		}
	}
}
