package seeker

import (
	"sync"

	"go.uber.org/atomic"
)

// Termination 是全局共享的 退出标志. 零值可用, 默认为未退出; 一旦设置就不会恢复.
//
// 所有方法都不会阻塞, 可以在信号处理函数中调用.
type Termination struct {
	flag atomic.Bool

	doneOnce sync.Once
	done     chan struct{}
}

func (t *Termination) doneChan() chan struct{} {
	t.doneOnce.Do(func() {
		t.done = make(chan struct{})
	})
	return t.done
}

// RequestStop 设置退出标志. 可多次调用, 只有第一次有效.
func (t *Termination) RequestStop() {
	ch := t.doneChan()
	if t.flag.CAS(false, true) {
		close(ch)
	}
}

func (t *Termination) IsStopRequested() bool {
	return t.flag.Load()
}

// Done 在 RequestStop 之后被关闭.
func (t *Termination) Done() <-chan struct{} {
	return t.doneChan()
}
