package seeker

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/utils"
)

type mapResolver map[string]string

func (m mapResolver) LookupHost(ip string) (string, bool) {
	h, ok := m[ip]
	return h, ok
}

type call struct {
	kind tun.Kind
	dest netLayer.Addr
	conn net.Conn //交给 Client 的 socket 底层的连接
}

// recordingClient 记录每次调用; hook 不为nil时 在记录之后调用.
type recordingClient struct {
	calls chan call
	hook  func(c call) error
}

func newRecordingClient(n int) *recordingClient {
	return &recordingClient{calls: make(chan call, n)}
}

func (rc *recordingClient) Name() string { return "recording" }

func (rc *recordingClient) handle(c call) error {
	rc.calls <- c
	if rc.hook != nil {
		return rc.hook(c)
	}
	return nil
}

func (rc *recordingClient) HandleTCP(conn net.Conn, target netLayer.Addr) error {
	defer conn.Close()
	return rc.handle(call{tun.KindStream, target, conn})
}

func (rc *recordingClient) HandleUDP(conn netLayer.MsgConn, target netLayer.Addr) error {
	defer conn.Close()
	var c net.Conn
	if u, ok := conn.(netLayer.UniTargetMsgConn); ok {
		c = u.Conn
	}
	return rc.handle(call{tun.KindDatagram, target, c})
}

func (rc *recordingClient) wait(t *testing.T, n int) []call {
	var got []call
	for i := 0; i < n; i++ {
		select {
		case c := <-rc.calls:
			got = append(got, c)
		case <-time.After(3 * time.Second):
			t.Log("expect", n, "calls, got", len(got))
			t.FailNow()
		}
	}
	return got
}

func streamSocket(endpoint string) tun.Socket {
	c, _ := net.Pipe()
	return tun.NewStreamSocket(c, netip.MustParseAddrPort(endpoint))
}

func datagramSocket(endpoint string) tun.Socket {
	c, _ := net.Pipe()
	ep := netip.MustParseAddrPort(endpoint)
	return tun.NewDatagramSocket(netLayer.UniTargetMsgConn{Conn: c, Target: netLayer.NewAddrFromAddrPort(ep)}, ep, netip.MustParseAddrPort("192.168.1.7:50000"))
}

func runDispatcher(d *Dispatcher) chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- d.Run()
	}()
	return ch
}

func waitRun(t *testing.T, ch chan error, within time.Duration) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(within):
		t.Log("dispatcher did not return in time")
		t.FailNow()
	}
	return nil
}

func TestDispatchExample(t *testing.T) {
	l := tun.NewListener(4)
	ctx := context.Background()
	l.Push(ctx, streamSocket("10.0.0.2:443"))
	l.Push(ctx, datagramSocket("10.0.0.3:53"))
	l.Close()

	client := newRecordingClient(4)
	err := Dispatch(l, mapResolver{"10.0.0.2": "example.com"}, client, &Termination{})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	got := client.wait(t, 2)
	if got[0].kind != tun.KindStream || got[1].kind != tun.KindDatagram {
		t.Log("flows should start in source order", got[0].kind, got[1].kind)
		t.FailNow()
	}
	if c := got[0].dest; c.Name != "example.com" || c.Port != 443 || len(c.IP) != 0 {
		t.Log(c)
		t.FailNow()
	}
	if c := got[1].dest; c.IsDomain() || c.String() != "10.0.0.3:53" {
		t.Log(c)
		t.FailNow()
	}
}

// 每条流 都交给 Client 一个自己的 socket
func TestDispatchDistinctSockets(t *testing.T) {
	const n = 8
	l := tun.NewListener(n)
	pushed := make(map[net.Conn]bool, n)
	for i := 0; i < n; i++ {
		c, _ := net.Pipe()
		pushed[c] = true
		ep := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 2, byte(i)}), 443)
		if i%2 == 0 {
			l.Push(context.Background(), tun.NewStreamSocket(c, ep))
		} else {
			l.Push(context.Background(), tun.NewDatagramSocket(netLayer.UniTargetMsgConn{Conn: c, Target: netLayer.NewAddrFromAddrPort(ep)}, ep, netip.MustParseAddrPort("192.168.1.7:50000")))
		}
	}
	l.Close()

	client := newRecordingClient(n)
	if err := Dispatch(l, nil, client, nil); err != nil {
		t.Log(err)
		t.FailNow()
	}

	seen := make(map[net.Conn]bool, n)
	for _, c := range client.wait(t, n) {
		if c.conn == nil || !pushed[c.conn] || seen[c.conn] {
			t.Log("socket reused or unknown", c.dest)
			t.FailNow()
		}
		seen[c.conn] = true
	}
	if len(seen) != n {
		t.FailNow()
	}
}

// 查到的域名 和 原始 endpoint 都原样交出
func TestRecoverDestinationVerbatim(t *testing.T) {
	var asked []string
	r := resolverFunc(func(ip string) (string, bool) {
		asked = append(asked, ip)
		if ip == "::ffff:10.0.0.2" {
			return "Example.COM.", true
		}
		return "", false
	})

	d := RecoverDestination(netip.MustParseAddrPort("[::ffff:10.0.0.2]:443"), r)
	if d.Name != "Example.COM." || d.Port != 443 || len(d.IP) != 0 {
		t.Log(d)
		t.FailNow()
	}

	ep := netip.MustParseAddrPort("[::ffff:10.0.0.9]:8080")
	d = RecoverDestination(ep, r)
	ip, _ := netip.AddrFromSlice(d.IP)
	if d.IsDomain() || ip != ep.Addr() || d.Port != 8080 {
		t.Log(d)
		t.FailNow()
	}

	if len(asked) != 2 || asked[0] != "::ffff:10.0.0.2" || asked[1] != "::ffff:10.0.0.9" {
		t.Log(asked)
		t.FailNow()
	}
}

func TestDispatchFallbackToEndpoint(t *testing.T) {
	l := tun.NewListener(2)
	l.Push(context.Background(), streamSocket("[::ffff:10.0.0.9]:8080"))
	l.Close()

	client := newRecordingClient(1)
	if err := Dispatch(l, mapResolver{}, client, nil); err != nil {
		t.Log(err)
		t.FailNow()
	}
	c := client.wait(t, 1)[0]
	ip, _ := netip.AddrFromSlice(c.dest.IP)
	if c.dest.IsDomain() || ip != netip.MustParseAddr("::ffff:10.0.0.9") || c.dest.Port != 8080 || c.dest.Network != "tcp" {
		t.Log(c.dest)
		t.FailNow()
	}

	// nil resolver 也一样
	if d := RecoverDestination(netip.MustParseAddrPort("10.0.0.9:53"), nil); d.String() != "10.0.0.9:53" {
		t.FailNow()
	}
}

func TestDispatchStopWithinPollInterval(t *testing.T) {
	interval := 50 * time.Millisecond
	term := &Termination{}
	d := &Dispatcher{
		Source:       tun.NewListener(0),
		Client:       newRecordingClient(1),
		Term:         term,
		PollInterval: interval,
	}
	ch := runDispatcher(d)

	time.Sleep(interval * 2)
	select {
	case err := <-ch:
		t.Log("dispatcher returned before stop requested", err)
		t.FailNow()
	default:
	}

	start := time.Now()
	term.RequestStop()
	if err := waitRun(t, ch, interval*10); err != nil {
		t.Log(err)
		t.FailNow()
	}
	if elapsed := time.Since(start); elapsed > interval*4 {
		t.Log("took too long to stop", elapsed)
		t.FailNow()
	}
}

func TestDispatchStopRequestedBeforeRun(t *testing.T) {
	term := &Termination{}
	term.RequestStop()

	ch := runDispatcher(&Dispatcher{
		Source:       tun.NewListener(0),
		Client:       newRecordingClient(1),
		Term:         term,
		PollInterval: 20 * time.Millisecond,
	})
	if err := waitRun(t, ch, time.Second); err != nil {
		t.Log(err)
		t.FailNow()
	}
}

func TestDispatchDoesNotWaitForFlows(t *testing.T) {
	release := make(chan struct{})
	client := newRecordingClient(8)
	client.hook = func(c call) error {
		<-release
		return nil
	}

	l := tun.NewListener(8)
	d := &Dispatcher{Source: l, Client: client, PollInterval: 20 * time.Millisecond}
	ch := runDispatcher(d)

	ctx := context.Background()
	for _, ep := range []string{"10.0.0.2:443", "10.0.0.3:443", "10.0.0.4:443"} {
		l.Push(ctx, streamSocket(ep))
	}

	// 第一条流还卡住时, 后面的流 也已经开始处理
	client.wait(t, 3)
	if s := d.Stats(); s.Active != 3 || s.Accepted != 3 {
		t.Log(s)
		t.FailNow()
	}

	l.Close()
	if err := waitRun(t, ch, time.Second); err != nil {
		t.Log(err)
		t.FailNow()
	}
	// Run 返回时 流仍在处理中
	if d.Stats().Active != 3 {
		t.FailNow()
	}

	close(release)
	for i := 0; i < 100 && d.Stats().Active != 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if d.Stats().Active != 0 {
		t.FailNow()
	}
}

func TestDispatchContainsFlowFaults(t *testing.T) {
	client := newRecordingClient(4)
	client.hook = func(c call) error {
		switch c.dest.Port {
		case 1:
			panic("flow exploded")
		case 2:
			return errors.New("dial failed")
		}
		return nil
	}

	l := tun.NewListener(4)
	ctx := context.Background()
	l.Push(ctx, streamSocket("10.0.0.2:1"))
	l.Push(ctx, datagramSocket("10.0.0.2:2"))
	l.Push(ctx, streamSocket("10.0.0.2:3"))
	l.Close()

	d := &Dispatcher{Source: l, Client: client}
	if err := d.Run(); err != nil {
		t.Log(err)
		t.FailNow()
	}
	client.wait(t, 3)

	for i := 0; i < 100 && d.Stats().Active != 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if s := d.Stats(); s.Failed != 2 || s.Accepted != 3 || s.Active != 0 {
		t.Log(s)
		t.FailNow()
	}
}

func TestDispatchSourceFault(t *testing.T) {
	fault := errors.New("interface went away")

	l := tun.NewListener(2)
	l.Push(context.Background(), streamSocket("10.0.0.2:443"))
	l.CloseWithError(fault)

	client := newRecordingClient(2)
	err := Dispatch(l, nil, client, nil)
	if !errors.Is(err, fault) {
		t.Log(err)
		t.FailNow()
	}
	// 出错前交出的流 仍然被处理了
	client.wait(t, 1)
}

func TestDispatchTransientErrors(t *testing.T) {
	l := tun.NewListener(8)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Report(ctx, utils.ErrInErr{ErrDesc: "accept", ErrDetail: tun.ErrTransient})
	}
	l.Push(ctx, streamSocket("10.0.0.2:443"))
	l.Close()

	client := newRecordingClient(1)
	if err := Dispatch(l, nil, client, nil); err != nil {
		t.Log("transient errors should be retried", err)
		t.FailNow()
	}
	client.wait(t, 1)

	l = tun.NewListener(8)
	for i := 0; i < 3; i++ {
		l.Report(ctx, utils.ErrInErr{ErrDesc: "accept", ErrDetail: tun.ErrTransient})
	}
	d := &Dispatcher{Source: l, Client: client, MaxTransientErrors: 2}
	if err := d.Run(); !errors.Is(err, tun.ErrTransient) {
		t.Log("too many transient errors should be fatal", err)
		t.FailNow()
	}
}

func TestDispatchNilClient(t *testing.T) {
	if err := Dispatch(tun.NewListener(0), nil, nil, nil); !errors.Is(err, utils.ErrNilParameter) {
		t.Log(err)
		t.FailNow()
	}
}

// 一个 Resolver 被许多流并发使用
func TestDispatchConcurrentResolver(t *testing.T) {
	var mu sync.Mutex
	lookups := 0
	r := resolverFunc(func(ip string) (string, bool) {
		mu.Lock()
		lookups++
		mu.Unlock()
		return "host-" + ip, true
	})

	const n = 50
	l := tun.NewListener(n)
	for i := 0; i < n; i++ {
		l.Push(context.Background(), streamSocket(netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 1, byte(i)}), 80).String()))
	}
	l.Close()

	client := newRecordingClient(n)
	if err := Dispatch(l, r, client, nil); err != nil {
		t.Log(err)
		t.FailNow()
	}
	for _, c := range client.wait(t, n) {
		if !c.dest.IsDomain() {
			t.FailNow()
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if lookups != n {
		t.Log(lookups)
		t.FailNow()
	}
}

type resolverFunc func(ip string) (string, bool)

func (f resolverFunc) LookupHost(ip string) (string, bool) { return f(ip) }
