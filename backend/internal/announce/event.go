package announce

import "time"

// LiveSessionEvent 是写入消息流的结构化公告记录。
// 每个连续的 live 时段恰好一条（上升沿语义由 presence.Coordinator 保证）。
type LiveSessionEvent struct {
	Kind           string    `json:"kind"` // 固定 "live-session"
	AnnouncementID string    `json:"announcementId"`
	DocID          string    `json:"docId"`
	Title          string    `json:"title"`
	Participants   []string  `json:"participants"`
	AnnouncedAt    time.Time `json:"announcedAt"`
}

const KindLiveSession = "live-session"
