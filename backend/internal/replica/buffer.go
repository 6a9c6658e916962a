package replica

import (
	"context"
	"sync"
	"time"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/persist"
)

type Field string

const (
	FieldContent Field = "content"
	FieldTitle   Field = "title"
)

// Gate 是缓冲区对防抖落盘层的依赖（由 persist.Gate 实现）。
type Gate interface {
	ScheduleFlush(docID string, buf persist.Buffer, debounce time.Duration)
	ForceFlush(ctx context.Context, docID string) error
	FlushBuffer(ctx context.Context, docID string, buf persist.Buffer) error
}

// EditBuffer 是单客户端、单文档的编辑暂存层。
// 职责：
//   - 吸收击键级别的本地修改（本地状态同步生效，UI 立即可见）
//   - 把同样的值写穿到 Store，让其他协作者尽快看到
//   - 跟踪相对持久副本的 dirty 状态，并驱动防抖落盘
//
// 合并规则（OnRemoteUpdate）按字段粒度执行：脏字段绝不被更旧的远端值
// 覆盖；常见 bug "远端回声抹掉自己还没落盘的击键" 靠这个规则挡住。
type EditBuffer struct {
	mu sync.Mutex

	docID    string
	clientID string

	content string
	title   string

	dirtyContent bool
	dirtyTitle   bool

	// 每个字段各自的最后本地编辑时间，用于和远端 LastModified 比较
	lastEditContent time.Time
	lastEditTitle   time.Time

	// 最后一次成功落盘时的字段值和哈希
	flushedContent  string
	flushedTitle    string
	lastFlushedHash string
	lastSaved       time.Time

	store    *Store
	gate     Gate
	debounce time.Duration
	now      func() time.Time
}

// NewEditBuffer 在客户端打开文档时创建缓冲区，以 st 为干净基线。
func NewEditBuffer(docID, clientID string, st State, store *Store, gate Gate, debounce time.Duration) *EditBuffer {
	return &EditBuffer{
		docID:           docID,
		clientID:        clientID,
		content:         st.Content,
		title:           st.Title,
		flushedContent:  st.Content,
		flushedTitle:    st.Title,
		lastFlushedHash: persist.ContentHash(st.Content, st.Title),
		store:           store,
		gate:            gate,
		debounce:        debounce,
		now:             time.Now,
	}
}

// OnLocalEdit 处理一次本地编辑：同步改本地字段、置脏、写穿到 Store、
// 重置防抖定时器。调用顺序即生效顺序，同一客户端内不会乱序。
func (b *EditBuffer) OnLocalEdit(field Field, value string) {
	b.mu.Lock()
	now := b.now()
	var p Patch
	switch field {
	case FieldTitle:
		b.title = value
		b.dirtyTitle = true
		b.lastEditTitle = now
		p.Title = &value
	default:
		b.content = value
		b.dirtyContent = true
		b.lastEditContent = now
		p.Content = &value
	}
	b.mu.Unlock()

	b.store.Write(b.docID, p, b.clientID)
	b.gate.ScheduleFlush(b.docID, b, b.debounce)
}

// OnRemoteUpdate 处理来自其他客户端的广播。
// 字段不脏：直接采纳远端值。
// 字段脏：只有当远端 LastModified 严格晚于本地该字段的最后编辑时间、
// 且本地值等于最后落盘值（即没有真正的冲突）时才采纳。
// 合并是幂等的，重复投递无害。
func (b *EditBuffer) OnRemoteUpdate(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.dirtyContent {
		b.content = st.Content
	} else if st.LastModified.After(b.lastEditContent) && b.content == b.flushedContent {
		b.content = st.Content
		b.dirtyContent = false
	}

	if !b.dirtyTitle {
		b.title = st.Title
	} else if st.LastModified.After(b.lastEditTitle) && b.title == b.flushedTitle {
		b.title = st.Title
		b.dirtyTitle = false
	}
}

// ForceFlush 显式"立即同步"：取消防抖定时器并马上尝试一次写入。
// 也是落盘失败后的用户侧重试入口。
func (b *EditBuffer) ForceFlush(ctx context.Context) error {
	return b.gate.ForceFlush(ctx, b.docID)
}

// Close 在客户端离开文档时调用：尽力做最后一次落盘。
// 调用方不应阻塞导航等待它的结果（通常放到 goroutine 里）。
// 走 FlushBuffer 而不是 ForceFlush：会话销毁时上层会并发调用
// Gate.Cancel 清登记表，最后一次落盘不能依赖登记还在。
func (b *EditBuffer) Close(ctx context.Context) {
	_ = b.gate.FlushBuffer(ctx, b.docID, b)
}

// ---- persist.Buffer 实现 ----

func (b *EditBuffer) Snapshot() (content, title string, dirty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content, b.title, b.dirtyContent || b.dirtyTitle
}

func (b *EditBuffer) LastFlushedHash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlushedHash
}

// MarkFlushed 记录落盘结果。落盘期间用户可能又输入了：只有当前值仍等于
// 已落盘值的字段才清脏，否则保持 dirty 等下一轮。
func (b *EditBuffer) MarkFlushed(hash, content, title string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFlushedHash = hash
	b.flushedContent = content
	b.flushedTitle = title
	b.lastSaved = at
	if b.content == content {
		b.dirtyContent = false
	}
	if b.title == title {
		b.dirtyTitle = false
	}
}

// ---- 只读访问（UI 的"未保存"指示、测试用） ----

func (b *EditBuffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirtyContent || b.dirtyTitle
}

func (b *EditBuffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

func (b *EditBuffer) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

func (b *EditBuffer) LastSaved() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSaved
}
