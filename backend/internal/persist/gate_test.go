package persist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// ---- 测试用假时钟：手动推进，不碰真实墙钟 ----

type fakeTimer struct {
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance 推进时钟并按到期顺序触发定时器（回调在锁外执行）
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}

// ---- 测试用缓冲和持久层 ----

type fakeBuffer struct {
	mu           sync.Mutex
	content      string
	title        string
	dirty        bool
	flushedHash  string
	markedHashes []string
}

func (b *fakeBuffer) set(content, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content, b.title, b.dirty = content, title, true
}

func (b *fakeBuffer) Snapshot() (string, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content, b.title, b.dirty
}

func (b *fakeBuffer) LastFlushedHash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushedHash
}

func (b *fakeBuffer) MarkFlushed(hash, content, title string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushedHash = hash
	b.dirty = false
	b.markedHashes = append(b.markedHashes, hash)
}

func (b *fakeBuffer) isDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []string // 每次写入的 content
	fail   bool
}

func (w *fakeWriter) Update(ctx context.Context, docID, content, title string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("backend unavailable")
	}
	w.writes = append(w.writes, content)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *fakeWriter) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.writes) == 0 {
		return ""
	}
	return w.writes[len(w.writes)-1]
}

// 同一个防抖窗口内的 N 次编辑只产生一次持久写，内容是最后一次编辑的
func TestGate_DebounceCollapsesBurst(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{}

	for _, s := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		buf.set(s, "Doc")
		g.ScheduleFlush("d1", buf, time.Second)
		clock.Advance(100 * time.Millisecond) // 每次编辑间隔 100ms，都在窗口内
	}

	if writer.count() != 0 {
		t.Fatalf("writes before quiet period = %d, want 0", writer.count())
	}

	clock.Advance(time.Second)

	if writer.count() != 1 {
		t.Fatalf("writes = %d, want 1", writer.count())
	}
	if got := writer.last(); got != "Hello" {
		t.Fatalf("written content = %q, want %q", got, "Hello")
	}
	if buf.isDirty() {
		t.Fatalf("buffer still dirty after flush")
	}
}

// 两次 flush 内容逐字节相同：第二次被哈希门挡掉，只有一次网络写
func TestGate_HashGateSkipsIdenticalContent(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{}

	buf.set("same", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)
	clock.Advance(time.Second)

	if writer.count() != 1 {
		t.Fatalf("writes = %d, want 1", writer.count())
	}

	// 内容没变但又被置脏（编辑后又改回去的情形）
	buf.set("same", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)
	clock.Advance(time.Second)

	if writer.count() != 1 {
		t.Fatalf("writes after identical flush = %d, want 1 (skipped)", writer.count())
	}
	if buf.isDirty() {
		t.Fatalf("dirty flag not cleared on skipped flush")
	}
}

// 重新调度会取消旧定时器，不会叠加出第二次写
func TestGate_RescheduleReplacesTimer(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{}

	buf.set("a", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)
	clock.Advance(900 * time.Millisecond)
	buf.set("ab", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)

	// 第一个定时器的到期点已过，但它被取消了
	clock.Advance(200 * time.Millisecond)
	if writer.count() != 0 {
		t.Fatalf("cancelled timer still fired, writes = %d", writer.count())
	}

	clock.Advance(time.Second)
	if writer.count() != 1 {
		t.Fatalf("writes = %d, want 1", writer.count())
	}
	if got := writer.last(); got != "ab" {
		t.Fatalf("written content = %q, want %q", got, "ab")
	}
}

// 落盘失败：dirty 保持，不自动重试；下一次调度（下一次编辑）成功后恢复
func TestGate_FailureKeepsDirtyNoSelfRetry(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{fail: true}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{}

	buf.set("hello", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)
	clock.Advance(time.Second)

	if !buf.isDirty() {
		t.Fatalf("dirty cleared despite write failure")
	}

	// 只推进时间不编辑：不能出现后台自发重试
	clock.Advance(10 * time.Second)
	if writer.count() != 0 {
		t.Fatalf("unexpected background retry, writes = %d", writer.count())
	}

	// 用户继续输入驱动重试
	writer.mu.Lock()
	writer.fail = false
	writer.mu.Unlock()
	buf.set("hello again", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)
	clock.Advance(time.Second)

	if writer.count() != 1 {
		t.Fatalf("writes = %d, want 1", writer.count())
	}
	if buf.isDirty() {
		t.Fatalf("buffer still dirty after successful retry")
	}
}

// ForceFlush 取消挂起定时器并立即写一次
func TestGate_ForceFlushImmediate(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{}

	buf.set("partial", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)

	if err := g.ForceFlush(context.Background(), "d1"); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	if writer.count() != 1 {
		t.Fatalf("writes = %d, want 1", writer.count())
	}

	// 被取消的定时器到期后不能再写第二次
	clock.Advance(2 * time.Second)
	if writer.count() != 1 {
		t.Fatalf("writes after cancelled timer = %d, want 1", writer.count())
	}
}

// Cancel 清掉登记后 FlushBuffer 仍然能写：会话销毁路径的最后一次
// 落盘不依赖登记表
func TestGate_FlushBufferSurvivesCancel(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{}

	buf.set("unsaved keystrokes", "Doc")
	g.ScheduleFlush("d1", buf, time.Second)
	g.Cancel("d1")

	if err := g.FlushBuffer(context.Background(), "d1", buf); err != nil {
		t.Fatalf("FlushBuffer() error = %v", err)
	}
	if writer.count() != 1 {
		t.Fatalf("writes = %d, want 1", writer.count())
	}
	if got := writer.last(); got != "unsaved keystrokes" {
		t.Fatalf("written content = %q, want %q", got, "unsaved keystrokes")
	}
	if buf.isDirty() {
		t.Fatalf("buffer still dirty after final flush")
	}

	// 取消过的定时器之后不能再触发第二次写
	clock.Advance(2 * time.Second)
	if writer.count() != 1 {
		t.Fatalf("writes after cancelled timer = %d, want 1", writer.count())
	}
}

// 不脏的缓冲 ForceFlush 是空操作
func TestGate_ForceFlushCleanBufferNoop(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{}
	g := NewGate(writer, clock)
	buf := &fakeBuffer{content: "c", title: "t"}

	g.ScheduleFlush("d1", buf, time.Second)
	buf.mu.Lock()
	buf.dirty = false
	buf.mu.Unlock()

	if err := g.ForceFlush(context.Background(), "d1"); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	if writer.count() != 0 {
		t.Fatalf("writes = %d, want 0", writer.count())
	}
}

func TestContentHash_Distinguishes(t *testing.T) {
	// 分隔符保证 ("ab","c") 和 ("a","bc") 不同
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Fatalf("hash collision between shifted content/title split")
	}
	if ContentHash("x", "y") != ContentHash("x", "y") {
		t.Fatalf("hash not deterministic")
	}
}
