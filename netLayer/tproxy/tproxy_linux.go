package tproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// 设置 透明代理 需要的 socket 选项. recvOrigDst 只用于 udp 监听.
func setTransparent(fd int, network string, recvOrigDst, reuse bool) error {
	if reuse {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}

	if strings.HasSuffix(network, "6") {
		if err := unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1); err != nil {
			return err
		}
		if recvOrigDst {
			return unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_RECVORIGDSTADDR, 1)
		}
		return nil
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
		return err
	}
	if recvOrigDst {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_RECVORIGDSTADDR, 1); err != nil {
			return err
		}
	}

	//双栈socket, v6部分 尽量设置
	if !strings.HasSuffix(network, "4") {
		unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
		if recvOrigDst {
			unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_RECVORIGDSTADDR, 1)
		}
	}
	return nil
}

func controlFunc(recvOrigDst, reuse bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = setTransparent(int(fd), network, recvOrigDst, reuse)
		})
		if err != nil {
			return err
		}
		return serr
	}
}

// origDst 从 IP_RECVORIGDSTADDR 的控制消息 中读出 udp包 原本的目标地址.
func origDst(msgs []unix.SocketControlMessage) (netip.AddrPort, error) {
	for _, m := range msgs {
		switch {
		case m.Header.Level == unix.SOL_IP && m.Header.Type == unix.IP_RECVORIGDSTADDR:
			// struct sockaddr_in: family(2) port(2) addr(4)
			if len(m.Data) < 8 {
				return netip.AddrPort{}, utils.ErrShortRead
			}
			port := uint16(m.Data[2])<<8 | uint16(m.Data[3])
			ip := netip.AddrFrom4([4]byte{m.Data[4], m.Data[5], m.Data[6], m.Data[7]})
			return netip.AddrPortFrom(ip, port), nil

		case m.Header.Level == unix.SOL_IPV6 && m.Header.Type == unix.IPV6_RECVORIGDSTADDR:
			// struct sockaddr_in6: family(2) port(2) flowinfo(4) addr(16)
			if len(m.Data) < 24 {
				return netip.AddrPort{}, utils.ErrShortRead
			}
			port := uint16(m.Data[2])<<8 | uint16(m.Data[3])
			var a16 [16]byte
			copy(a16[:], m.Data[8:24])
			return netip.AddrPortFrom(netip.AddrFrom16(a16).Unmap(), port), nil
		}
	}
	return netip.AddrPort{}, utils.ErrInErr{ErrDesc: "no original destination in control message", ErrDetail: utils.ErrInvalidData}
}

// writeBack 用一个 绑定在 p.From 上的透明socket 把 p 发给客户端.
func writeBack(p tun.Packet) error {
	network := "udp4"
	if p.From.Addr().Is6() {
		network = "udp6"
	}
	transparent := controlFunc(false, true)
	mark := netLayer.SomarkControl(netLayer.DefaultSomark)

	//回包也走 OUTPUT 链, 要带上标记
	lc := net.ListenConfig{Control: func(network, address string, c syscall.RawConn) error {
		if err := transparent(network, address, c); err != nil {
			return err
		}
		return mark(network, address, c)
	}}
	pc, err := lc.ListenPacket(context.Background(), network, p.From.String())
	if err != nil {
		return err
	}
	defer pc.Close()

	_, err = pc.(*net.UDPConn).WriteToUDPAddrPort(p.Data, p.To)
	return err
}

type sessionKey struct {
	src, dst netip.AddrPort
}

// Machine 监听 tcp 与 udp 的透明代理端口, 实现 tun.Source 与 tun.Sender.
type Machine struct {
	netLayer.Addr

	tcpLn   net.Listener
	udpConn *net.UDPConn

	flows  *tun.Listener
	writer *tun.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[sessionKey]*session

	closeOnce sync.Once
}

// Listen 在 addr 上监听 tcp 与 udp. backlog 为还未被 Next 取走的流 的最大数量.
// 需要 CAP_NET_ADMIN.
func Listen(addr string, backlog int) (*Machine, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	ctx, cancel := context.WithCancel(context.Background())

	tcpLC := net.ListenConfig{Control: controlFunc(false, false)}
	ln, err := tcpLC.Listen(ctx, "tcp", addr)
	if err != nil {
		cancel()
		return nil, utils.ErrInErr{ErrDesc: "tproxy listen tcp failed", ErrDetail: err, Data: addr}
	}

	udpLC := net.ListenConfig{Control: controlFunc(true, false)}
	pc, err := udpLC.ListenPacket(ctx, "udp", addr)
	if err != nil {
		cancel()
		ln.Close()
		return nil, utils.ErrInErr{ErrDesc: "tproxy listen udp failed", ErrDetail: err, Data: addr}
	}

	//端口可能为0, 以实际监听的为准
	a, _ := netLayer.NewAddrFromNetAddr(ln.Addr())

	m := &Machine{
		Addr:     a,
		tcpLn:    ln,
		udpConn:  pc.(*net.UDPConn),
		flows:    tun.NewListener(backlog),
		writer:   tun.NewWriter(DefaultReplyQueueLen, writeBack),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[sessionKey]*session),
	}

	m.wg.Add(2)
	go m.acceptLoop()
	go m.readLoop()

	if ce := utils.CanLogInfo("tproxy listening"); ce != nil {
		ce.Write(zap.String("addr", addr))
	}
	return m, nil
}

func (m *Machine) Next(ctx context.Context) (tun.Socket, error) {
	return m.flows.Next(ctx)
}

// SendLoop 把 udp 回包 写回客户端, 阻塞直到 ctx 结束.
func (m *Machine) SendLoop(ctx context.Context) error {
	return m.writer.Run(ctx)
}

func (m *Machine) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Machine) ReplyStats() (sent, dropped, failed uint64) {
	return m.writer.Stats()
}

// Close 停止监听. 之后 Next 依次交出 已经排队的流, 然后返回 io.EOF.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.tcpLn.Close()
		m.udpConn.Close()
		m.wg.Wait()
		m.flows.Close()

		m.mu.Lock()
		ss := make([]*session, 0, len(m.sessions))
		for _, s := range m.sessions {
			ss = append(ss, s)
		}
		m.mu.Unlock()

		for _, s := range ss {
			s.Close()
		}
	})
	return nil
}

func (m *Machine) acceptLoop() {
	defer m.wg.Done()

	for {
		c, err := m.tcpLn.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				m.flows.Close()
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				m.flows.Report(m.ctx, utils.ErrInErr{ErrDesc: "tproxy accept: " + err.Error(), ErrDetail: tun.ErrTransient})
				time.Sleep(5 * time.Millisecond)
				continue
			}
			m.flows.CloseWithError(utils.ErrInErr{ErrDesc: "tproxy accept failed", ErrDetail: err})
			return
		}

		ta, ok := c.LocalAddr().(*net.TCPAddr)
		if !ok {
			c.Close()
			continue
		}
		endpoint := ta.AddrPort()
		endpoint = netip.AddrPortFrom(endpoint.Addr().Unmap(), endpoint.Port())

		if err := m.flows.Push(m.ctx, tun.NewStreamSocket(c, endpoint)); err != nil {
			c.Close()
			return
		}
	}
}

func (m *Machine) readLoop() {
	defer m.wg.Done()

	buf := make([]byte, netLayer.MaxUDP_packetLen)
	oob := make([]byte, 1024)

	for {
		n, oobn, _, src, err := m.udpConn.ReadMsgUDPAddrPort(buf, oob)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				continue
			}
			m.flows.CloseWithError(utils.ErrInErr{ErrDesc: "tproxy udp read failed", ErrDetail: err})
			return
		}

		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			if ce := utils.CanLogWarn("tproxy udp bad control message"); ce != nil {
				ce.Write(zap.Error(err))
			}
			continue
		}
		dst, err := origDst(msgs)
		if err != nil {
			if ce := utils.CanLogWarn("tproxy udp no original destination"); ce != nil {
				ce.Write(zap.String("src", src.String()), zap.Error(err))
			}
			continue
		}
		src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())

		data := make([]byte, n)
		copy(data, buf[:n])

		s, isNew := m.getSession(src, dst)
		s.deliver(data)

		if isNew {
			if err := m.flows.Push(m.ctx, tun.NewDatagramSocket(s, dst, src)); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (m *Machine) getSession(src, dst netip.AddrPort) (s *session, isNew bool) {
	key := sessionKey{src: src, dst: dst}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s = m.sessions[key]; s != nil {
		return
	}
	s = &session{
		m:        m,
		key:      key,
		readChan: make(chan []byte, sessionReadQueueLen),
		closed:   make(chan struct{}),
	}
	m.sessions[key] = s
	return s, true
}

func (m *Machine) removeSession(s *session) {
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

// session 是一个 udp 会话, 实现 netLayer.MsgConn. 读到的都是 客户端发往 key.dst 的包;
// 写出的包 都伪装成来自 key.dst, 发给 key.src.
type session struct {
	m   *Machine
	key sessionKey

	readChan chan []byte

	deadlineMu   sync.Mutex
	readDeadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *session) deliver(data []byte) {
	select {
	case <-s.closed:
	case s.readChan <- data:
	default:
		if ce := utils.CanLogDebug("tproxy udp session queue full, packet dropped"); ce != nil {
			ce.Write(zap.String("src", s.key.src.String()), zap.String("dst", s.key.dst.String()))
		}
	}
}

func (s *session) ReadMsgFrom() ([]byte, netLayer.Addr, error) {
	s.deadlineMu.Lock()
	dl := s.readDeadline
	s.deadlineMu.Unlock()

	var timeout <-chan time.Time
	if !dl.IsZero() {
		d := time.Until(dl)
		if d <= 0 {
			return nil, netLayer.Addr{}, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.closed:
		return nil, netLayer.Addr{}, io.EOF
	case <-timeout:
		return nil, netLayer.Addr{}, os.ErrDeadlineExceeded
	case data := <-s.readChan:
		return data, netLayer.NewAddrFromAddrPort(s.key.dst), nil
	}
}

// WriteMsgTo 把包排入 回写队列, 不论 addr 为何, 客户端看到的来源 都是它原本请求的目标.
func (s *session) WriteMsgTo(p []byte, _ netLayer.Addr) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	s.m.writer.Send(tun.Packet{Data: p, From: s.key.dst, To: s.key.src})
	return nil
}

func (s *session) SetDeadline(t time.Time) error {
	return s.SetReadDeadline(t)
}

// 只对之后开始的 ReadMsgFrom 生效
func (s *session) SetReadDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.readDeadline = t
	s.deadlineMu.Unlock()
	return nil
}

func (s *session) SetWriteDeadline(t time.Time) error {
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.m.removeSession(s)
	})
	return nil
}
