package tun

import (
	"context"
	"net/netip"

	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Packet 是要经由虚拟网卡写回客户端的一个包. From 为伪装的来源(即客户端原本请求的目标).
type Packet struct {
	Data []byte
	From netip.AddrPort
	To   netip.AddrPort
}

// Writer 把 Packet 排队, 在后台 goroutine 中逐个写出, 使得 处理流的 goroutine 不会被慢速的写阻塞.
type Writer struct {
	queue chan Packet
	write func(Packet) error

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewWriter(queueLen int, write func(Packet) error) *Writer {
	return &Writer{
		queue: make(chan Packet, queueLen),
		write: write,
	}
}

// Send 不阻塞; 队列满时丢弃该包并返回 false. Send 之后 调用者不应再修改 p.Data.
func (w *Writer) Send(p Packet) bool {
	select {
	case w.queue <- p:
		return true
	default:
		w.dropped.Inc()
		if ce := utils.CanLogDebug("tun writer queue full, packet dropped"); ce != nil {
			ce.Write(zap.String("to", p.To.String()), zap.Int("len", len(p.Data)))
		}
		return false
	}
}

// Run 阻塞直到 ctx 结束. 写出错误只记录, 不会导致 Run 返回.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-w.queue:
			if err := w.write(p); err != nil {
				w.failed.Inc()
				if ce := utils.CanLogDebug("tun writer write failed"); ce != nil {
					ce.Write(zap.String("from", p.From.String()), zap.String("to", p.To.String()), zap.Error(err))
				}
				continue
			}
			w.sent.Inc()
		}
	}
}

// Stats 返回 已写出, 因队列满而丢弃, 写出失败 的包的数量
func (w *Writer) Stats() (sent, dropped, failed uint64) {
	return w.sent.Load(), w.dropped.Load(), w.failed.Load()
}
