package persist

import "time"

// 可注入时钟。防抖行为要在单测里验证，不能依赖真实墙钟，
// 所以把 Now / AfterFunc 抽成接口，生产环境用 realClock。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop 返回 false 表示定时器已经触发或已停止
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock 返回基于 time 包的时钟实现。
func RealClock() Clock { return realClock{} }
