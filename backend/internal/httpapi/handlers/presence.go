package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/cache"
)

type PresenceHandler struct {
	presence cache.PresenceCache
}

func NewPresenceHandler(p cache.PresenceCache) *PresenceHandler {
	return &PresenceHandler{presence: p}
}

// ActiveDocuments 返回当前有在线成员的文档和各自的成员列表。
// 数据来自共享 presence 存储，所以是全部实例合并后的视图，
// 不只是处理本次请求的这一台。
func (h *PresenceHandler) ActiveDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	docIDs, err := h.presence.GetDocuments(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type activeDoc struct {
		DocID   string   `json:"docId"`
		Members []string `json:"members"`
	}
	out := make([]activeDoc, 0, len(docIDs))
	for _, docID := range docIDs {
		members, err := h.presence.GetAliveMembersWithNames(ctx, docID)
		if err != nil || len(members) == 0 {
			// 清理脚本刚把房间清空，或单个房间读失败：跳过而不是整个 500
			continue
		}
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.DisplayName)
		}
		out = append(out, activeDoc{DocID: docID, Members: names})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}
