package proxy

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
)

func TestNewRuledClient(t *testing.T) {
	rc, err := NewRuledClient(nil, []*netLayer.RuleConf{
		{DialTag: "reject", Domains: []string{"domain:ads.com"}},
	}, "")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if rc.DefaultTag != DirectName {
		t.Log(rc.DefaultTag)
		t.FailNow()
	}

	if tag, c := rc.Pick(netLayer.NewDomainAddr("x.ads.com", 443)); tag != "reject" || c.Name() != RejectName {
		t.Log(tag)
		t.FailNow()
	}
	if tag, _ := rc.Pick(netLayer.NewDomainAddr("example.com", 443)); tag != DirectName {
		t.Log(tag)
		t.FailNow()
	}
	if rc.Route("y.ads.com", "udp") != "reject" {
		t.FailNow()
	}

	if _, err = NewRuledClient(nil, []*netLayer.RuleConf{{DialTag: "nowhere"}}, ""); err == nil {
		t.Log("unknown toTag should fail")
		t.FailNow()
	}
	if _, err = NewRuledClient([]*DialConf{{Tag: "x", Protocol: "nosuchproto"}}, nil, ""); err == nil {
		t.FailNow()
	}
}

func TestRejectClient(t *testing.T) {
	rc, _ := NewRuledClient(nil, nil, RejectName)

	app, lc := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- rc.HandleTCP(lc, netLayer.NewDomainAddr("example.com", 80))
	}()

	app.SetReadDeadline(time.Now().Add(time.Second * 2))
	if _, err := app.Read(make([]byte, 1)); err != io.EOF {
		t.Log("rejected conn should be closed", err)
		t.FailNow()
	}
	<-done
}

func TestDirectClientTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		io.Copy(c, c)
		c.Close()
	}()

	target, _ := netLayer.NewAddrFromNetAddr(l.Addr())

	app, lc := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- NewDirectClient().HandleTCP(lc, target)
	}()

	app.Write([]byte("direct"))
	buf := make([]byte, 6)
	if _, err = io.ReadFull(app, buf); err != nil || string(buf) != "direct" {
		t.Log(string(buf), err)
		t.FailNow()
	}
	app.Close()

	select {
	case err = <-done:
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
	case <-time.After(time.Second * 15):
		t.FailNow()
	}
}

func TestDirectClientDialFail(t *testing.T) {
	// 拿一个空闲端口, 随即关闭
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := l.Addr().String()
	l.Close()

	target, _ := netLayer.NewAddrByHostPort(addr)
	_, lc := net.Pipe()
	if err := NewDirectClient().HandleTCP(lc, target); err == nil {
		t.Log("dial a closed port should fail")
		t.FailNow()
	}
}

// ip 规则只看 ip 形式的目标, 恢复为域名的目标 只由 domain 规则匹配.
func TestRuledClientIPRuleAndDomainTarget(t *testing.T) {
	rc, err := NewRuledClient(nil, []*netLayer.RuleConf{
		{DialTag: "reject", IPs: []string{"10.1.0.0/16"}},
	}, "")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if tag, _ := rc.Pick(netLayer.Addr{IP: net.IPv4(10, 1, 2, 3), Port: 443}); tag != "reject" {
		t.Log(tag)
		t.FailNow()
	}
	if tag, _ := rc.Pick(netLayer.Addr{Name: "intranet.example.com", Port: 443}); tag != DirectName {
		t.Log(tag)
		t.FailNow()
	}
	if rc.Route("intranet.example.com", "tcp") != DirectName {
		t.FailNow()
	}
}
