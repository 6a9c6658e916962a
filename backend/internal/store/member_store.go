package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
)

// Member 是工作区成员的持久记录（gorm 模型）。
type Member struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	WorkspaceID string `gorm:"index;type:varchar(64)"`
	UserID      string `gorm:"index;type:varchar(64)"`
	DisplayName string `gorm:"type:varchar(255)"`
	AvatarURL   string `gorm:"type:varchar(512)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MemberStore struct {
	db *gorm.DB
}

func NewMemberStore(db *gorm.DB) *MemberStore {
	return &MemberStore{db: db}
}

// Members 返回文档所在工作区的成员目录（只读），实现 cache.MemberSource。
// 文档 -> 工作区靠 documents 表关联。
func (s *MemberStore) Members(ctx context.Context, docID string) ([]identity.Member, error) {
	var rows []Member
	err := s.db.WithContext(ctx).
		Joins("JOIN documents ON documents.workspace_id = members.workspace_id").
		Where("documents.id = ?", docID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	members := make([]identity.Member, 0, len(rows))
	for _, m := range rows {
		members = append(members, identity.Member{
			ID:          m.ID,
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
		})
	}
	return members, nil
}
