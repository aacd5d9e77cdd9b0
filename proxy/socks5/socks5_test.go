package socks5

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/proxy"
)

func TestUDPPacking(t *testing.T) {
	for _, a := range []netLayer.Addr{
		netLayer.NewDomainAddr("example.com", 53),
		{IP: net.ParseIP("10.0.0.3"), Port: 53},
		{IP: net.ParseIP("2001:db8::1"), Port: 8443},
	} {
		pkt, err := PackUDP(a, []byte("payload"))
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		got, data, err := UnpackUDP(pkt)
		if err != nil {
			t.Log(err)
			t.FailNow()
		}
		if got.String() != a.String() || string(data) != "payload" {
			t.Log(got.String(), a.String(), string(data))
			t.FailNow()
		}
	}

	if _, _, err := UnpackUDP([]byte{0, 0, 1, ATypIP4, 1, 2, 3, 4, 0, 53}); err == nil {
		t.Log("fragmented packet should be refused")
		t.FailNow()
	}
	if _, _, err := ParseAddr([]byte{ATypDomain, 10, 'a'}); err == nil {
		t.FailNow()
	}
}

// 一个最简的 无认证 socks5 服务端, 支持 CONNECT 和 UDP ASSOCIATE. 收到的 tcp/udp 数据 都原样回显.
func startServer(t *testing.T) net.Listener {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go serveOne(c)
		}
	}()
	return l
}

func serveOne(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 2)
	if _, err := io.ReadFull(c, buf); err != nil {
		return
	}
	io.ReadFull(c, make([]byte, buf[1]))
	c.Write([]byte{Version5, AuthNone})

	head := make([]byte, 3)
	if _, err := io.ReadFull(c, head); err != nil {
		return
	}
	if _, err := readAddr(c); err != nil {
		return
	}

	switch head[1] {
	case CmdConnect:
		c.Write([]byte{Version5, 0, 0, ATypIP4, 0, 0, 0, 0, 0, 0})
		io.Copy(c, c)

	case CmdUDPAssociate:
		uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			return
		}
		defer uc.Close()
		reply, _ := AppendAddr([]byte{Version5, 0, 0}, netLayer.NewAddrFromUDPAddr(uc.LocalAddr().(*net.UDPAddr)))
		c.Write(reply)

		go func() {
			b := make([]byte, 2048)
			for {
				n, from, err := uc.ReadFrom(b)
				if err != nil {
					return
				}
				// 原样回显, 包头里的地址即 “来源”
				uc.WriteTo(b[:n], from)
			}
		}()
		io.Copy(io.Discard, c)
	}
}

func newTestClient(t *testing.T, addr string) proxy.Client {
	a, _ := netLayer.NewAddrByHostPort(addr)
	c, err := proxy.NewClient(&proxy.DialConf{Protocol: Name, IP: a.IP.String(), Port: a.Port})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	return c
}

func TestClientTCP(t *testing.T) {
	l := startServer(t)
	defer l.Close()
	c := newTestClient(t, l.Addr().String())

	app, lc := net.Pipe()
	go c.HandleTCP(lc, netLayer.NewDomainAddr("example.com", 443))

	app.Write([]byte("hello"))
	buf := make([]byte, 5)
	app.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(app, buf); err != nil || string(buf) != "hello" {
		t.Log(string(buf), err)
		t.FailNow()
	}
	app.Close()
}

func TestClientUDP(t *testing.T) {
	l := startServer(t)
	defer l.Close()
	c := newTestClient(t, l.Addr().String())

	target := netLayer.NewDomainAddr("dns.example.com", 53)
	app, lcConn := net.Pipe()
	lc := netLayer.UniTargetMsgConn{Conn: lcConn, Target: target}

	go c.HandleUDP(lc, target)

	app.Write([]byte("query"))
	buf := make([]byte, 64)
	app.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := app.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte("query")) {
		t.Log(string(buf[:n]), err)
		t.FailNow()
	}
	app.Close()
}
