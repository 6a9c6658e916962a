package presence

import (
	"context"
	"log"
	"sync"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
)

// Announcer 是外部消息流（用户可见的持久 feed）的写入口。
type Announcer interface {
	AnnounceLiveSession(ctx context.Context, docID, title string, participants []string) error
}

// Directory 是只读的成员目录查询。
type Directory interface {
	Members(ctx context.Context, docID string) ([]identity.Member, error)
}

// Titles 提供公告里要带的文档标题。
type Titles interface {
	Title(docID string) string
}

// 协作会话达到 Live 所需的最少活跃连接数
const liveThreshold = 2

// Coordinator 是一个两状态机：Idle（活跃数 < 2）和 Live（活跃数 >= 2）。
// Idle -> Live 的上升沿恰好触发一次公告并置位 hasAnnounced；
// Live -> Idle 只复位 hasAnnounced（重新武装），自己不发任何公告。
// hasAnnounced 是按文档的实例状态，不是包级布尔——同进程里多个文档
// 的会话互不干扰。
type Coordinator struct {
	tracker   *Tracker
	announcer Announcer
	directory Directory
	titles    Titles

	mu           sync.Mutex
	hasAnnounced map[string]bool
}

func NewCoordinator(tracker *Tracker, announcer Announcer, directory Directory, titles Titles) *Coordinator {
	return &Coordinator{
		tracker:      tracker,
		announcer:    announcer,
		directory:    directory,
		titles:       titles,
		hasAnnounced: make(map[string]bool),
	}
}

// Recompute 在每次 Tracker 变化后调用，重算 live 谓词。
// 幂等：已经 Live 时反复调用不会重复公告。
func (c *Coordinator) Recompute(ctx context.Context, docID string) {
	active := c.tracker.Active(docID)

	c.mu.Lock()
	announced := c.hasAnnounced[docID]
	var rising bool
	if len(active) >= liveThreshold && !announced {
		c.hasAnnounced[docID] = true
		rising = true
	} else if len(active) < liveThreshold && announced {
		c.hasAnnounced[docID] = false
	}
	c.mu.Unlock()

	if rising {
		c.announce(ctx, docID, active)
	}
}

// announce 收集当前活跃连接，逐个解析身份，写一条公告到消息流。
// 公告是建议性的：写失败只打日志，不影响文档编辑的正确性，也不自动重试。
func (c *Coordinator) announce(ctx context.Context, docID string, active []Record) {
	var members []identity.Member
	if c.directory != nil {
		var err error
		members, err = c.directory.Members(ctx, docID)
		if err != nil {
			// 目录查不到不是错误：全部走占位解析
			log.Printf("member directory lookup failed (doc=%s): %v", docID, err)
			members = nil
		}
	}

	names := make([]string, 0, len(active))
	for _, rec := range active {
		p := identity.Resolve(rec.ConnID, rec.IdentityHint, rec.Info, members)
		names = append(names, p.DisplayName)
	}

	title := ""
	if c.titles != nil {
		title = c.titles.Title(docID)
	}

	if err := c.announcer.AnnounceLiveSession(ctx, docID, title, names); err != nil {
		log.Printf("live session announcement failed (doc=%s): %v", docID, err)
	}
}
