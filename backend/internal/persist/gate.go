package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"
)

// Writer 是持久层的写入口。对同一 payload 重复调用必须安全（幂等），
// 失败不能破坏已存内容。
type Writer interface {
	Update(ctx context.Context, docID, content, title string) error
}

// Buffer 是 Gate 对本地编辑缓冲的最小依赖。
type Buffer interface {
	// Snapshot 返回当前内容和"是否有未保存修改"
	Snapshot() (content, title string, dirty bool)
	LastFlushedHash() string
	// MarkFlushed 记录一次成功落盘（或哈希相等被跳过）的结果
	MarkFlushed(hash, content, title string, at time.Time)
}

// ContentHash 对 (content, title) 计算内容哈希，用于跳过无变化的写入。
func ContentHash(content, title string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(title))
	return hex.EncodeToString(h.Sum(nil))
}

type pendingFlush struct {
	timer Timer
}

// Gate 是防抖 + 内容哈希门控的落盘写入器。
// 每个文档同一时刻只有一个定时器：ScheduleFlush 永远是"取消再重建"，
// 不会叠加。到期后每个防抖窗口最多发出一次持久写。
type Gate struct {
	writer Writer
	clock  Clock

	mu      sync.Mutex
	pending map[string]*pendingFlush
	// 记住每个文档最近一次调度用的缓冲，ForceFlush 没有挂起定时器时也能用
	bufs map[string]Buffer
}

func NewGate(writer Writer, clock Clock) *Gate {
	if clock == nil {
		clock = RealClock()
	}
	return &Gate{
		writer:  writer,
		clock:   clock,
		pending: make(map[string]*pendingFlush),
		bufs:    make(map[string]Buffer),
	}
}

// ScheduleFlush 取消该文档已有的定时器并重新开始计时。
// 编辑不会阻塞在网络 IO 上：写入发生在安静期之后。
func (g *Gate) ScheduleFlush(docID string, buf Buffer, debounce time.Duration) {
	g.mu.Lock()
	if p := g.pending[docID]; p != nil {
		p.timer.Stop()
	}
	g.bufs[docID] = buf
	p := &pendingFlush{}
	p.timer = g.clock.AfterFunc(debounce, func() {
		g.mu.Lock()
		if g.pending[docID] == p {
			delete(g.pending, docID)
		}
		g.mu.Unlock()
		_ = g.flush(context.Background(), docID)
	})
	g.pending[docID] = p
	g.mu.Unlock()
}

// ForceFlush 用于显式"立即同步"：取消挂起的定时器，立即尝试一次写入。
func (g *Gate) ForceFlush(ctx context.Context, docID string) error {
	g.mu.Lock()
	if p := g.pending[docID]; p != nil {
		p.timer.Stop()
		delete(g.pending, docID)
	}
	buf := g.bufs[docID]
	g.mu.Unlock()
	return g.flushBuffer(ctx, docID, buf)
}

// FlushBuffer 直接冲刷调用方持有的缓冲，不查登记表。
// 会话销毁路径用它：Cancel 清掉登记之后（或并发于 Cancel），
// 最后一次落盘仍然要能执行，否则最后一个离开的客户端的未保存
// 修改会既不在内存也不在库里。
func (g *Gate) FlushBuffer(ctx context.Context, docID string, buf Buffer) error {
	g.mu.Lock()
	if p := g.pending[docID]; p != nil {
		p.timer.Stop()
		delete(g.pending, docID)
	}
	g.mu.Unlock()
	return g.flushBuffer(ctx, docID, buf)
}

// Cancel 丢弃挂起的定时器和缓冲登记（文档会话整体销毁时用）。
func (g *Gate) Cancel(docID string) {
	g.mu.Lock()
	if p := g.pending[docID]; p != nil {
		p.timer.Stop()
		delete(g.pending, docID)
	}
	delete(g.bufs, docID)
	g.mu.Unlock()
}

func (g *Gate) flush(ctx context.Context, docID string) error {
	g.mu.Lock()
	buf := g.bufs[docID]
	g.mu.Unlock()
	return g.flushBuffer(ctx, docID, buf)
}

func (g *Gate) flushBuffer(ctx context.Context, docID string, buf Buffer) error {
	if buf == nil {
		return nil
	}

	content, title, dirty := buf.Snapshot()
	if !dirty {
		return nil
	}

	hash := ContentHash(content, title)
	if hash == buf.LastFlushedHash() {
		// 内容没变，跳过网络调用，但仍然清脏标记
		buf.MarkFlushed(hash, content, title, g.clock.Now())
		return nil
	}

	if err := g.writer.Update(ctx, docID, content, title); err != nil {
		// 失败时保持 dirty：下一次本地编辑或显式 ForceFlush 会重试。
		// 不自己起重试定时器，避免后台无界重试风暴。
		log.Printf("persist write failed (doc=%s): %v", docID, err)
		return err
	}
	buf.MarkFlushed(hash, content, title, g.clock.Now())
	return nil
}
