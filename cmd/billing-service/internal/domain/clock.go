package domain

import "time"

// Clock 墙钟抽象，测试中可注入假时钟模拟批次过期
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock 返回系统时钟（UTC）
func NewSystemClock() Clock {
	return systemClock{}
}
