package seeker

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"runtime/debug"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/proxy"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = time.Second

	// 连续这么多次 临时错误 之后 就认为来源已经坏掉了
	DefaultMaxTransientErrors = 16

	maxTransientDelay = time.Second
)

// Resolver 把 ip 字符串 反查为域名. 实现必须 可并发调用, 且不能长时间阻塞.
type Resolver interface {
	LookupHost(ip string) (host string, found bool)
}

// RecoverDestination 用 r 反查 endpoint 的ip; 查到则返回 域名+端口, 否则原样返回 endpoint.
// 查询用的 ip 字符串 和 查到的域名 都原样使用, 规范化由 Source 和 Resolver 负责.
// r 可以为 nil.
func RecoverDestination(endpoint netip.AddrPort, r Resolver) netLayer.Addr {
	port := int(endpoint.Port())
	if r != nil {
		if host, found := r.LookupHost(endpoint.Addr().String()); found && host != "" {
			return netLayer.Addr{Name: host, Port: port}
		}
	}
	return netLayer.Addr{IP: endpoint.Addr().AsSlice(), Port: port}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type Stats struct {
	Accepted uint64 //交给 Client 的流的总数
	Active   int64  //还在处理中的流
	Failed   uint64 //返回错误 或 panic 的流
}

// Dispatcher 从 Source 不断取出流, 恢复其目标地址, 交给 Client 处理.
//
// Source, Client 必须给出. Resolver 可为 nil, 此时所有流都使用原始ip.
// Term 为 nil 时 Run 会新建一个, 可之后通过 d.Term 取得.
type Dispatcher struct {
	Source   tun.Source
	Resolver Resolver
	Client   proxy.Client
	Term     *Termination

	PollInterval       time.Duration
	MaxTransientErrors int

	accepted atomic.Uint64
	failed   atomic.Uint64
	active   atomic.Int64
	lastID   atomic.Uint64
}

// Dispatch 用默认参数运行一个 Dispatcher.
func Dispatch(source tun.Source, resolver Resolver, client proxy.Client, term *Termination) error {
	d := &Dispatcher{
		Source:   source,
		Resolver: resolver,
		Client:   client,
		Term:     term,
	}
	return d.Run()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted: d.accepted.Load(),
		Active:   d.active.Load(),
		Failed:   d.failed.Load(),
	}
}

// Run 阻塞, 直到 来源有序结束 (返回nil), 等待超时时发现 Term 已被设置 (返回nil), 或 来源出错 (返回该错误).
//
// 已经开始处理的流 不会被等待, 也不会被取消.
func (d *Dispatcher) Run() error {
	if d.Source == nil || d.Client == nil {
		return utils.ErrInErr{ErrDesc: "Dispatcher needs Source and Client", ErrDetail: utils.ErrNilParameter}
	}
	if d.Term == nil {
		d.Term = &Termination{}
	}
	interval := d.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxTransient := d.MaxTransientErrors
	if maxTransient <= 0 {
		maxTransient = DefaultMaxTransientErrors
	}

	var transientCount int
	var transientDelay time.Duration

	for {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		sock, err := d.Source.Next(ctx)
		cancel()

		if err == nil {
			transientCount = 0
			transientDelay = 0
			d.dispatch(sock)
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			if ce := utils.CanLogInfo("flow source exhausted"); ce != nil {
				ce.Write()
			}
			return nil

		case isTimeout(err):
			if d.Term.IsStopRequested() {
				if ce := utils.CanLogInfo("dispatcher stop requested"); ce != nil {
					ce.Write(zap.Uint64("accepted", d.accepted.Load()), zap.Int64("active", d.active.Load()))
				}
				return nil
			}

		case tun.IsTransient(err):
			transientCount++
			if transientCount > maxTransient {
				return utils.ErrInErr{ErrDesc: "too many consecutive transient source errors", ErrDetail: err, Data: transientCount}
			}
			if ce := utils.CanLogWarn("flow source transient error"); ce != nil {
				ce.Write(zap.Error(err), zap.Int("count", transientCount))
			}
			if d.Term.IsStopRequested() {
				return nil
			}

			// 与 net/http 的 Serve 处理 Temporary 错误的方式一样
			if transientDelay == 0 {
				transientDelay = 5 * time.Millisecond
			} else {
				transientDelay *= 2
			}
			if transientDelay > maxTransientDelay {
				transientDelay = maxTransientDelay
			}
			time.Sleep(transientDelay)

		default:
			return utils.ErrInErr{ErrDesc: "flow source fault", ErrDetail: err}
		}
	}
}

func (d *Dispatcher) dispatch(sock tun.Socket) {
	if !sock.IsValid() {
		d.failed.Inc()
		if ce := utils.CanLogErr("flow source returned an invalid socket"); ce != nil {
			ce.Write(zap.String("kind", sock.Kind().String()))
		}
		sock.Close()
		return
	}

	id := d.lastID.Inc()
	dest := RecoverDestination(sock.Endpoint(), d.Resolver)
	dest.Network = sock.Kind().Network()

	if ce := utils.CanLogDebug("new flow"); ce != nil {
		ce.Write(
			zap.Uint64("flow", id),
			zap.String("src", sock.Source().String()),
			zap.String("endpoint", sock.Endpoint().String()),
			zap.String("dest", dest.UrlString()),
		)
	}

	d.accepted.Inc()
	d.active.Inc()

	// 等处理流的 goroutine 开始运行再继续取下一条, 这样 Client 被调用的顺序 与 来源交出的顺序一致.
	launched := make(chan struct{})
	go d.serve(id, sock, dest, launched)
	<-launched
}

func (d *Dispatcher) serve(id uint64, sock tun.Socket, dest netLayer.Addr, launched chan struct{}) {
	defer d.active.Dec()
	defer func() {
		if r := recover(); r != nil {
			d.failed.Inc()
			if ce := utils.CanLogErr("flow panic recovered"); ce != nil {
				ce.Write(
					zap.Uint64("flow", id),
					zap.String("dest", dest.UrlString()),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}
		sock.Close()
	}()

	close(launched)

	var err error
	switch sock.Kind() {
	case tun.KindStream:
		err = d.Client.HandleTCP(sock.Stream(), dest)
	case tun.KindDatagram:
		err = d.Client.HandleUDP(sock.Datagram(), dest)
	}

	if err != nil {
		d.failed.Inc()
		if ce := utils.CanLogWarn("flow failed"); ce != nil {
			ce.Write(zap.Uint64("flow", id), zap.String("dest", dest.UrlString()), zap.Error(err))
		}
		return
	}

	if ce := utils.CanLogDebug("flow end"); ce != nil {
		ce.Write(zap.Uint64("flow", id), zap.String("dest", dest.UrlString()))
	}
}
