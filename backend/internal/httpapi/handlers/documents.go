package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/store"
)

type DocumentHandler struct {
	documents *store.DocumentStore
	folders   *store.FolderStore
}

func NewDocumentHandler(documents *store.DocumentStore, folders *store.FolderStore) *DocumentHandler {
	return &DocumentHandler{documents: documents, folders: folders}
}

type createDocReq struct {
	WorkspaceID string `json:"workspaceId" binding:"required"`
	OwnerID     string `json:"ownerId" binding:"required"`
	Title       string `json:"title"`
}

func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	var req createDocReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title == "" {
		req.Title = "Untitled"
	}
	docID, err := h.documents.CreateDocument(c.Request.Context(), req.WorkspaceID, req.OwnerID, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "title": req.Title})
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	docID := c.Param("docID")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing docID"})
		return
	}
	doc, err := h.documents.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"docId":     doc.ID,
		"title":     doc.Title,
		"content":   doc.Content,
		"updatedAt": doc.UpdatedAt,
	})
}

// DeleteFolder 级联删除文件夹及其全部后代
func (h *DocumentHandler) DeleteFolder(c *gin.Context) {
	folderID := c.Param("folderID")
	if folderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing folderID"})
		return
	}
	deleted, err := h.folders.CascadeDelete(c.Request.Context(), folderID)
	if err != nil {
		if errors.Is(err, store.ErrFolderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "folder not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
