package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
)

type countingSource struct {
	mu      sync.Mutex
	calls   int64
	members []identity.Member
	err     error
	block   chan struct{} // 非 nil 时回源会阻塞在这里
}

func (s *countingSource) Members(ctx context.Context, docID string) ([]identity.Member, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members, s.err
}

func TestCachedDirectory_NoRedisPassThrough(t *testing.T) {
	src := &countingSource{members: []identity.Member{{ID: "m1", DisplayName: "Alice"}}}
	d := NewCachedDirectory(nil, src)

	got, err := d.Members(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(got) != 1 || got[0].DisplayName != "Alice" {
		t.Fatalf("Members() = %v", got)
	}
}

func TestCachedDirectory_SourceErrorPropagates(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	d := NewCachedDirectory(nil, src)

	if _, err := d.Members(context.Background(), "doc-1"); err == nil {
		t.Fatalf("Members() error = nil, want source error")
	}
}

// 同一文档的并发回源被 singleflight 合并成一次
func TestCachedDirectory_SingleflightCollapses(t *testing.T) {
	src := &countingSource{
		members: []identity.Member{{ID: "m1"}},
		block:   make(chan struct{}),
	}
	d := NewCachedDirectory(nil, src)

	var started, wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		started.Add(1)
		wg.Add(1)
		go func() {
			started.Done()
			defer wg.Done()
			_, _ = d.Members(context.Background(), "doc-1")
		}()
	}

	// 等所有调用挂到同一个 in-flight 上再放行
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	if n := atomic.LoadInt64(&src.calls); n != 1 {
		t.Fatalf("source calls = %d, want 1", n)
	}
}

func TestCachedDirectory_RedisCacheHit(t *testing.T) {
	rdb := testRedis(t)
	src := &countingSource{members: []identity.Member{{ID: "m1", DisplayName: "Alice"}}}
	d := NewCachedDirectory(rdb, src)
	ctx := context.Background()

	if _, err := d.Members(ctx, "doc-1"); err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	got, err := d.Members(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(got) != 1 || got[0].DisplayName != "Alice" {
		t.Fatalf("cached Members() = %v", got)
	}
	if n := atomic.LoadInt64(&src.calls); n != 1 {
		t.Fatalf("source calls = %d, want 1 (second read from cache)", n)
	}
}

// 空目录也被缓存（防穿透），不会每次都打数据库
func TestCachedDirectory_EmptyResultCached(t *testing.T) {
	rdb := testRedis(t)
	src := &countingSource{}
	d := NewCachedDirectory(rdb, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := d.Members(ctx, "doc-empty")
		if err != nil {
			t.Fatalf("Members() error = %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("Members() = %v, want empty", got)
		}
	}
	if n := atomic.LoadInt64(&src.calls); n != 1 {
		t.Fatalf("source calls = %d, want 1", n)
	}
}
