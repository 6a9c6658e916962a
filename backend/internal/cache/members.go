package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/george-bobby/proddy-platform-sub005/backend/internal/identity"
)

const (
	membersBaseTTL = 5 * time.Minute  // 基础过期时间
	membersJitter  = 60 * time.Second // 随机抖动范围
	emptyTTL       = 1 * time.Minute  // 空目录的短缓存，防穿透
)

// 获取随机TTL，防止缓存雪崩
func membersTTL() time.Duration {
	return membersBaseTTL + time.Duration(rand.Int63n(int64(membersJitter)))
}

// MemberSource 是成员目录的回源（通常是 store.MemberStore）。
type MemberSource interface {
	Members(ctx context.Context, docID string) ([]identity.Member, error)
}

// CachedDirectory 给成员目录查询套上 Redis 缓存 + singleflight。
// 公告是低频事件，但上升沿可能在多个文档上同时到来；singleflight
// 保证同一文档的并发回源只打一次数据库。
type CachedDirectory struct {
	rdb    redis.UniversalClient
	source MemberSource
	sf     singleflight.Group
}

func NewCachedDirectory(rdb redis.UniversalClient, source MemberSource) *CachedDirectory {
	return &CachedDirectory{rdb: rdb, source: source}
}

// Members 实现 presence.Directory。
func (d *CachedDirectory) Members(ctx context.Context, docID string) ([]identity.Member, error) {
	key := membersKey(docID)

	// 使用 Singleflight 包裹整个流程
	val, err, _ := d.sf.Do(key, func() (interface{}, error) {
		if d.rdb != nil {
			raw, err := d.rdb.Get(ctx, key).Bytes()
			if err == nil {
				var members []identity.Member
				if jsonErr := json.Unmarshal(raw, &members); jsonErr == nil {
					return members, nil
				}
				// 缓存内容坏了就当 miss，回源覆盖
			} else if !errors.Is(err, redis.Nil) {
				// Redis 故障降级为直接回源，不把错误往上抛
			}
		}

		// 回源 (Redis Miss)，查数据库
		members, err := d.source.Members(ctx, docID)
		if err != nil {
			return nil, err
		}

		if d.rdb != nil {
			ttl := membersTTL()
			if len(members) == 0 {
				// 空目录也缓存一小段时间，防止缓存穿透
				ttl = emptyTTL
			}
			if raw, jsonErr := json.Marshal(members); jsonErr == nil {
				_ = d.rdb.Set(ctx, key, raw, ttl).Err()
			}
		}
		return members, nil
	})
	if err != nil {
		return nil, err
	}
	// 使用断言确保不会panic
	if members, ok := val.([]identity.Member); ok {
		return members, nil
	}
	return nil, errors.New("internal type error")
}
