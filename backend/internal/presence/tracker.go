package presence

import (
	"sync"
	"time"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
)

// 活跃窗口：最后活动在 30s 以内的连接才算在线
const ActivityWindow = 30 * time.Second

// Record 是单个连接的 presence 记录。
type Record struct {
	ConnID       string
	IdentityHint string
	Info         *identity.Info
	LastActivity time.Time
}

// Tracker 维护每个文档"当前有哪些连接在看/在编辑"以及各自的最后活动时间。
// Upsert 只在本地可观测的活动信号（击键、光标移动、显式心跳）上调用，
// 不在被动收到别人的广播时调用，否则回声会把活动时间虚假刷新。
type Tracker struct {
	mu   sync.RWMutex
	docs map[string]map[string]*Record
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{docs: make(map[string]map[string]*Record), now: time.Now}
}

func NewTrackerWithNow(now func() time.Time) *Tracker {
	return &Tracker{docs: make(map[string]map[string]*Record), now: now}
}

// Upsert 刷新连接的 LastActivity。首次出现时创建记录。
func (t *Tracker) Upsert(docID, connID, hint string, info *identity.Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.docs[docID]
	if conns == nil {
		conns = make(map[string]*Record)
		t.docs[docID] = conns
	}
	rec := conns[connID]
	if rec == nil {
		rec = &Record{ConnID: connID}
		conns[connID] = rec
	}
	if hint != "" {
		rec.IdentityHint = hint
	}
	if info != nil {
		rec.Info = info
	}
	rec.LastActivity = t.now()
}

// Active 返回活跃窗口内的连接快照。
// 过期记录不主动删（它们只是被这里过滤掉），真正的移除由传输层的
// 断连通知触发 Remove——连接加入/离开事件的源头是外部复制传输。
func (t *Tracker) Active(docID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var out []Record
	for _, rec := range t.docs[docID] {
		if now.Sub(rec.LastActivity) < ActivityWindow {
			out = append(out, *rec)
		}
	}
	return out
}

// Remove 在断连时彻底删除记录。
func (t *Tracker) Remove(docID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conns := t.docs[docID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(t.docs, docID)
		}
	}
}
