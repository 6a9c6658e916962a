package ws

import "time"

type ClientMessage struct {
	Type  string      `json:"type"`
	DocID string      `json:"docId"`
	Field string      `json:"field,omitempty"` // "content" | "title"
	Value string      `json:"value,omitempty"`
	Range interface{} `json:"range,omitempty"`
}

type PresenceMember struct {
	ConnID      string `json:"connId"`
	DisplayName string `json:"displayName,omitempty"`
}

type ServerMessage struct {
	Type    string           `json:"type"`
	ConnID  string           `json:"connId,omitempty"`
	DocID   string           `json:"docId,omitempty"`
	Members []PresenceMember `json:"members,omitempty"`
	Range   interface{}      `json:"range,omitempty"`
	Content string           `json:"content,omitempty"`
}

// 推送给客户端的文档复制状态（join 应答和远端更新共用）
type StateMessage struct {
	Type           string    `json:"type"` // "state"
	DocID          string    `json:"docId"`
	Content        string    `json:"content"`
	Title          string    `json:"title"`
	LastModified   time.Time `json:"lastModified"`
	LastModifiedBy string    `json:"lastModifiedBy"`
	// 本客户端视角的未保存指示
	Dirty bool `json:"dirty"`
}
