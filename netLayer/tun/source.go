package tun

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/e1732a364fed/seeker/utils"
)

var (
	// 用 errors.Is(err, ErrTransient) 判断; 驱动 用 utils.ErrInErr{ErrDesc: ..., ErrDetail: ErrTransient} 包装临时错误.
	ErrTransient = errors.New("transient source error")

	ErrClosed = errors.New("tun source closed")
)

// Source 是虚拟网卡一侧的流的来源.
//
// Next 阻塞至有新的流、ctx 结束、或来源出错. ctx 超时时返回 ctx.Err().
// 有序结束时返回 io.EOF. 其它错误中, IsTransient 为 true 的可以重试, 其余均为致命错误.
type Source interface {
	Next(ctx context.Context) (Socket, error)
}

// Sender 是需要后台发送循环的来源, 比如 udp 回包需要经由虚拟网卡写回.
// SendLoop 阻塞直到 ctx 结束.
type Sender interface {
	SendLoop(ctx context.Context) error
}

type temporary interface {
	Temporary() bool
}

// IsTransient 判断 来源返回的错误 是否为可重试的临时错误.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

type item struct {
	sock Socket
	err  error
}

// Listener 是用 chan 实现的 Source. 驱动调用 Push / Report, 消费者调用 Next.
//
// Close 之后, 已经 Push 进去的 流 仍会被 Next 依次交出, 之后 Next 返回 关闭时给出的错误 (nil 则为 io.EOF).
type Listener struct {
	items chan item

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// backlog 为还未被 Next 取走的 流 的最大数量.
func NewListener(backlog int) *Listener {
	if backlog < 0 {
		backlog = 0
	}
	return &Listener{
		items: make(chan item, backlog),
		done:  make(chan struct{}),
	}
}

// Push 阻塞直到 s 进入队列. 若 Listener 已关闭或 ctx 结束, 返回错误, 此时 s 的所有权仍属于调用者.
func (l *Listener) Push(ctx context.Context, s Socket) error {
	if !s.IsValid() {
		return utils.ErrNilParameter
	}
	return l.put(ctx, item{sock: s})
}

// Report 向消费者报告一个错误. 可重试的错误请包装 ErrTransient.
func (l *Listener) Report(ctx context.Context, err error) error {
	if err == nil {
		return utils.ErrNilParameter
	}
	return l.put(ctx, item{err: err})
}

func (l *Listener) put(ctx context.Context, it item) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	select {
	case l.items <- it:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) Next(ctx context.Context) (Socket, error) {
	select {
	case it := <-l.items:
		return it.sock, it.err
	default:
	}

	select {
	case it := <-l.items:
		return it.sock, it.err
	case <-l.done:
		select {
		case it := <-l.items:
			return it.sock, it.err
		default:
		}
		if l.closeErr != nil {
			return Socket{}, l.closeErr
		}
		return Socket{}, io.EOF
	case <-ctx.Done():
		return Socket{}, ctx.Err()
	}
}

// CloseWithError 关闭 Listener; err 为 nil 表示有序结束. 只有第一次调用有效.
func (l *Listener) CloseWithError(err error) {
	l.closeOnce.Do(func() {
		l.closeErr = err
		close(l.done)
	})
}

func (l *Listener) Close() error {
	l.CloseWithError(nil)
	return nil
}

// Drain 关闭所有还没被取走的流. 应在消费者不再调用 Next 后调用.
func (l *Listener) Drain() (n int) {
	for {
		select {
		case it := <-l.items:
			if it.err == nil {
				it.sock.Close()
				n++
			}
		default:
			return
		}
	}
}
