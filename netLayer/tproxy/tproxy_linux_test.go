package tproxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/utils"
	"golang.org/x/sys/unix"
)

func TestOrigDst(t *testing.T) {
	v4 := unix.SocketControlMessage{
		Header: unix.Cmsghdr{Level: unix.SOL_IP, Type: unix.IP_RECVORIGDSTADDR},
		Data:   []byte{2, 0, 0x01, 0xbb, 10, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 0},
	}
	ap, err := origDst([]unix.SocketControlMessage{v4})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if ap != netip.MustParseAddrPort("10.0.0.3:443") {
		t.Log(ap)
		t.FailNow()
	}

	v6data := make([]byte, 28)
	v6data[2], v6data[3] = 0, 53
	copy(v6data[8:24], netip.MustParseAddr("2001:db8::1").AsSlice())
	v6 := unix.SocketControlMessage{
		Header: unix.Cmsghdr{Level: unix.SOL_IPV6, Type: unix.IPV6_RECVORIGDSTADDR},
		Data:   v6data,
	}
	ap, err = origDst([]unix.SocketControlMessage{v6})
	if err != nil || ap != netip.MustParseAddrPort("[2001:db8::1]:53") {
		t.Log(ap, err)
		t.FailNow()
	}

	if _, err = origDst(nil); !errors.Is(err, utils.ErrInvalidData) {
		t.Log(err)
		t.FailNow()
	}

	v4.Data = v4.Data[:5]
	if _, err = origDst([]unix.SocketControlMessage{v4}); err != utils.ErrShortRead {
		t.Log(err)
		t.FailNow()
	}
}

func newTestMachine(write func(tun.Packet) error) *Machine {
	return &Machine{
		writer:   tun.NewWriter(8, write),
		sessions: make(map[sessionKey]*session),
	}
}

func TestSession(t *testing.T) {
	m := newTestMachine(nil)

	src := netip.MustParseAddrPort("192.168.1.7:50000")
	dst := netip.MustParseAddrPort("10.0.0.3:53")

	s, isNew := m.getSession(src, dst)
	if !isNew {
		t.FailNow()
	}
	if s2, isNew := m.getSession(src, dst); isNew || s2 != s {
		t.FailNow()
	}

	s.deliver([]byte("query"))
	bs, addr, err := s.ReadMsgFrom()
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if string(bs) != "query" || addr.String() != "10.0.0.3:53" {
		t.Log(string(bs), addr.String())
		t.FailNow()
	}

	s.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	if _, _, err = s.ReadMsgFrom(); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Log(err)
		t.FailNow()
	}
	s.SetReadDeadline(time.Time{})

	if err = s.WriteMsgTo([]byte("answer"), netLayer.Addr{}); err != nil {
		t.Log(err)
		t.FailNow()
	}

	s.Close()
	s.Close()
	if _, _, err = s.ReadMsgFrom(); err != io.EOF {
		t.Log(err)
		t.FailNow()
	}
	if m.SessionCount() != 0 {
		t.FailNow()
	}
	if err = s.WriteMsgTo([]byte("late"), netLayer.Addr{}); err == nil {
		t.FailNow()
	}
}

func TestSessionReplyAddress(t *testing.T) {
	got := make(chan tun.Packet, 1)
	m := newTestMachine(func(p tun.Packet) error {
		got <- p
		return nil
	})

	src := netip.MustParseAddrPort("192.168.1.7:50000")
	dst := netip.MustParseAddrPort("10.0.0.3:53")
	s, _ := m.getSession(src, dst)

	//不论回包来自哪里, 都伪装成 dst
	other, _ := netLayer.NewAddr("8.8.8.8:53")
	s.WriteMsgTo([]byte("answer"), other)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.SendLoop(ctx)

	var p tun.Packet
	select {
	case p = <-got:
	case <-time.After(time.Second):
		t.FailNow()
	}
	if p.From != dst || p.To != src || !bytes.Equal(p.Data, []byte("answer")) {
		t.Log(p)
		t.FailNow()
	}
}
