package identity

import (
	"fmt"
	"strings"
)

// Info 是传输层附带在连接上的展示元数据（常见于访客/短时会话）。
// 用显式结构而不是开放字典，这样 Resolve 的回退顺序是穷尽且类型安全的。
type Info struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Member 是成员目录里的持久记录。
type Member struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Participant 是 presence 连接和持久成员记录的合体视图。
// MemberID/UserID 解析失败时为空，DisplayName 永远非空。
type Participant struct {
	ConnID      string `json:"connId"`
	MemberID    string `json:"memberId,omitempty"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Resolve 把一条 presence 连接解析成 Participant。
// presence 身份和持久成员记录来自不同的系统边界，不保证一一对应
// （访客会话、目录同步延迟、不同系统的 id 格式漂移），所以按顺序回退：
//
//  1. 精确匹配：hint 等于成员的持久 id（memberId 或 userId）
//  2. 子串匹配：兜住传输层截断/加前缀的 id
//  3. 连接自带的展示元数据（不查目录）
//  4. 合成占位：displayName = "User <connID>"，头像按 connID 确定性生成
//
// 函数是全函数：任何输入都返回非空 DisplayName，且对同一
// (连接, 成员表) 输入结果确定。
func Resolve(connID, hint string, info *Info, members []Member) Participant {
	if hint != "" {
		// 1. 精确匹配
		for _, m := range members {
			if hint == m.ID || hint == m.UserID {
				return Participant{
					ConnID:      connID,
					MemberID:    m.ID,
					UserID:      m.UserID,
					DisplayName: m.DisplayName,
					AvatarURL:   m.AvatarURL,
				}
			}
		}
		// 2. 子串匹配（双向：hint 被截断、或 hint 带了前缀），
		// 和精确匹配一样同时看 memberId 和 userId
		for _, m := range members {
			if containsEither(hint, m.ID) || containsEither(hint, m.UserID) {
				return Participant{
					ConnID:      connID,
					MemberID:    m.ID,
					UserID:      m.UserID,
					DisplayName: m.DisplayName,
					AvatarURL:   m.AvatarURL,
				}
			}
		}
	}

	// 3. 传输层自带的展示信息
	if info != nil && info.DisplayName != "" {
		return Participant{
			ConnID:      connID,
			DisplayName: info.DisplayName,
			AvatarURL:   info.AvatarURL,
		}
	}

	// 4. 合成占位，保证永不失败
	return Participant{
		ConnID:      connID,
		DisplayName: "User " + connID,
		AvatarURL:   placeholderAvatar(connID),
	}
}

func containsEither(hint, id string) bool {
	return id != "" && (strings.Contains(hint, id) || strings.Contains(id, hint))
}

// 按 connID 做种子的确定性头像
func placeholderAvatar(connID string) string {
	return fmt.Sprintf("https://api.dicebear.com/9.x/identicon/svg?seed=%s", connID)
}
