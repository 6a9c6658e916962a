package ws

import (
	"strconv"
	"sync"
	"testing"
)

func newIdleConn(id string) *Conn {
	return NewConn(nil, nil, id, "", nil, nil)
}

func TestHub_JoinLeave(t *testing.T) {
	h := NewHub(nil)
	c1 := newIdleConn("c1")
	c2 := newIdleConn("c2")

	h.Join("d1", c1)
	h.Join("d1", c2)

	if empty := h.Leave("d1", c1); empty {
		t.Fatalf("Leave() empty = true with one conn remaining")
	}
	if empty := h.Leave("d1", c2); !empty {
		t.Fatalf("Leave() empty = false for last conn")
	}
	// 空房间再离开是无害的
	if empty := h.Leave("d1", c2); empty {
		t.Fatalf("Leave() on missing room reported empty")
	}
}

func TestHub_BroadcastCursorSkipsOrigin(t *testing.T) {
	h := NewHub(nil)
	origin := newIdleConn("origin")
	peer := newIdleConn("peer")
	h.Join("d1", origin)
	h.Join("d1", peer)

	h.BroadcastCursor("d1", origin, origin.connID, map[string]int{"start": 1})

	select {
	case msg := <-peer.send:
		if msg.MessageType() != "cursor" {
			t.Fatalf("peer got %q, want cursor", msg.MessageType())
		}
	default:
		t.Fatalf("peer received nothing")
	}
	select {
	case <-origin.send:
		t.Fatalf("origin received its own cursor broadcast")
	default:
	}
}

// 广播和 Join/Leave 并发：迭代走快照，不碰活 map
func TestHub_BroadcastConcurrentWithMembership(t *testing.T) {
	h := NewHub(nil)
	stable := newIdleConn("stable")
	h.Join("d1", stable)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c := newIdleConn("churn-" + strconv.Itoa(i))
			h.Join("d1", c)
			h.Leave("d1", c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.BroadcastCursor("d1", stable, "x", nil)
			h.BroadcastPresence("d1", nil)
			// 排空 stable 的队列，避免 drop-on-full 掩盖问题
			for {
				select {
				case <-stable.send:
					continue
				default:
				}
				break
			}
		}
	}()
	wg.Wait()
}
