package cache

import "fmt"

// 键语义：
// - roomKey(docID):            房间成员 ZSET（member=connID, score=expireAt）
// - namesKey(docID):           房间内 connID→displayName 映射（Hash）
// - cursorKey(docID,connID):   成员光标/选区 JSON（String，带 TTL）
// - membersKey(docID):         成员目录缓存（String JSON，带抖动 TTL）

const (
	keyRoomFmt    = "presence:room:%s"       // ZSET<connID, expireAt>
	keyNamesFmt   = "presence:room:names:%s" // Hash<connID -> displayName>
	keyCursorFmt  = "presence:cursor:%s:%s"  // String JSON with TTL
	keyMembersFmt = "directory:members:%s"   // String JSON with TTL
)

func roomKey(docID string) string                  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string                 { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID string, connID string) string { return fmt.Sprintf(keyCursorFmt, docID, connID) }
func membersKey(docID string) string               { return fmt.Sprintf(keyMembersFmt, docID) }
