package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Folder 是工作区里的文件夹节点。树结构用 id 索引 + 父指针表达，
// 不在内存里建递归结构。
type Folder struct {
	ID          string  `gorm:"primaryKey;type:varchar(64)"`
	WorkspaceID string  `gorm:"index;type:varchar(64)"`
	Name        string  `gorm:"type:varchar(255)"`
	ParentID    *string `gorm:"index;type:varchar(64)"` // nil = 顶层
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var ErrFolderNotFound = errors.New("folder not found")

type FolderStore struct {
	db *gorm.DB
}

func NewFolderStore(db *gorm.DB) *FolderStore {
	return &FolderStore{db: db}
}

// CascadeDelete 删除文件夹及其全部后代。
// 先把该工作区的 (id, parentId) 全量读出来，在内存里用显式工作队列
// 算出级联集合，再一次性删除——不用递归，深树不会打爆栈。
func (s *FolderStore) CascadeDelete(ctx context.Context, folderID string) (int64, error) {
	var root Folder
	err := s.db.WithContext(ctx).Select("id", "workspace_id").Where("id = ?", folderID).First(&root).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrFolderNotFound
		}
		return 0, err
	}

	var rows []Folder
	err = s.db.WithContext(ctx).
		Select("id", "parent_id").
		Where("workspace_id = ?", root.WorkspaceID).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	parents := make(map[string]string, len(rows))
	for _, f := range rows {
		if f.ParentID != nil {
			parents[f.ID] = *f.ParentID
		} else {
			parents[f.ID] = ""
		}
	}

	ids := cascadeIDs(folderID, parents)
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Folder{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// cascadeIDs 从父指针表算出 root 及其所有后代的 id。
// 显式队列遍历，children 索引一次建好，天然处理环（visited 去重）。
func cascadeIDs(root string, parents map[string]string) []string {
	children := make(map[string][]string, len(parents))
	for id, parent := range parents {
		if parent != "" {
			children[parent] = append(children[parent], id)
		}
	}

	visited := map[string]bool{root: true}
	out := []string{root}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}
