package replica

import "time"

// 文档的共享复制视图（所有在线协作者看到的同一份内存状态）。
// 没有独立的持久性：所有客户端断开后状态消失，下次 join 时从持久层的
// Document 重建。
type State struct {
	Content        string    `json:"content"`
	Title          string    `json:"title"`
	LastModified   time.Time `json:"lastModified"`
	LastModifiedBy string    `json:"lastModifiedBy"`
}

// 字段级的部分更新。nil 表示该字段不改。
type Patch struct {
	Content *string
	Title   *string
}

// 订阅回调：每次 Write 之后对该文档的所有订阅者广播一次。
// origin 是发起写入的客户端标识，订阅方用它过滤自己的回声。
// 投递语义是 at-least-once，重复投递由幂等合并兜底。
type Subscriber func(docID string, st State, origin string)

func StringPtr(s string) *string { return &s }
