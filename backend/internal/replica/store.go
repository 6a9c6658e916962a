package replica

import (
	"sync"
	"time"
)

// Store 是所有在线客户端共享的低延迟文档视图。
// 合并策略：字段级 last-writer-wins（墙钟时间），不维护字段版本向量。
// 并发写同一字段时后写的胜出——这是可接受的，因为"不丢本地未保存修改"
// 由 EditBuffer 的脏字段优先规则负责，不靠这里的互斥。
type Store struct {
	mu   sync.RWMutex
	docs map[string]*docState
	now  func() time.Time
}

type docState struct {
	mu      sync.RWMutex
	st      State
	subs    map[uint64]Subscriber
	nextSub uint64
}

func NewStore() *Store {
	return &Store{docs: make(map[string]*docState), now: time.Now}
}

// NewStoreWithNow 注入时钟，便于测试。
func NewStoreWithNow(now func() time.Time) *Store {
	return &Store{docs: make(map[string]*docState), now: now}
}

// 获取或惰性创建指定文档的状态（双重检查，同 collab 引擎的 getOrCreateDoc）
func (s *Store) getOrCreateDoc(docID string) *docState {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds = s.docs[docID]; ds == nil {
		ds = &docState{subs: make(map[uint64]Subscriber)}
		s.docs[docID] = ds
	}
	return ds
}

// Read 返回文档当前的复制状态。第二个返回值为 false 表示会话还不存在
// （所有客户端都断开过，需要从持久层重建）。
func (s *Store) Read(docID string) (State, bool) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return State{}, false
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.st.LastModified.IsZero() {
		return State{}, false
	}
	return ds.st, true
}

// Seed 用持久层的内容初始化会话（仅当会话不存在时生效）。
// 返回初始化后的状态。
func (s *Store) Seed(docID, content, title string) State {
	ds := s.getOrCreateDoc(docID)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.st.LastModified.IsZero() {
		ds.st = State{
			Content:        content,
			Title:          title,
			LastModified:   s.now(),
			LastModifiedBy: "system",
		}
	}
	return ds.st
}

// Write 字段级合并 partial update 并广播给所有订阅者。
// 每次写都盖上 LastModified/LastModifiedBy 戳。
func (s *Store) Write(docID string, p Patch, origin string) State {
	ds := s.getOrCreateDoc(docID)

	ds.mu.Lock()
	if p.Content != nil {
		ds.st.Content = *p.Content
	}
	if p.Title != nil {
		ds.st.Title = *p.Title
	}
	ds.st.LastModified = s.now()
	ds.st.LastModifiedBy = origin
	st := ds.st
	// 广播要在锁外做，先拷一份订阅者快照，避免回调里再进 Store 导致死锁
	subs := make([]Subscriber, 0, len(ds.subs))
	for _, fn := range ds.subs {
		subs = append(subs, fn)
	}
	ds.mu.Unlock()

	for _, fn := range subs {
		fn(docID, st, origin)
	}
	return st
}

// Subscribe 注册对某文档的广播订阅，返回取消函数。
func (s *Store) Subscribe(docID string, fn Subscriber) (cancel func()) {
	ds := s.getOrCreateDoc(docID)
	ds.mu.Lock()
	id := ds.nextSub
	ds.nextSub++
	ds.subs[id] = fn
	ds.mu.Unlock()
	return func() {
		ds.mu.Lock()
		delete(ds.subs, id)
		ds.mu.Unlock()
	}
}

// Title 返回文档当前的复制标题（公告用；会话不存在时返回空串）。
func (s *Store) Title(docID string) string {
	st, ok := s.Read(docID)
	if !ok {
		return ""
	}
	return st.Title
}

// Drop 丢弃一个文档的会话状态（所有客户端离开后由上层调用）。
// 下次 join 会从 Document 重建。
func (s *Store) Drop(docID string) {
	s.mu.Lock()
	delete(s.docs, docID)
	s.mu.Unlock()
}
