package shadowsocks

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/proxy"
	"github.com/shadowsocks/go-shadowsocks2/core"
	"github.com/shadowsocks/go-shadowsocks2/socks"
)

const testPass = "shadowsocks-test-pass"

// 简单的 ss 服务端: tcp 读出目标地址后 回显; udp 整包回显 (包头地址保持不变).
func startServer(t *testing.T, cipher core.Cipher, wantTarget string) (tcpAddr string, stop func()) {
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
			go func() {
				sc := cipher.StreamConn(c)
				defer sc.Close()
				a, err := socks.ReadAddr(sc)
				if err != nil || a.String() != wantTarget {
					return
				}
				io.Copy(sc, sc)
			}()
		}
	}()

	pc, err := net.ListenPacket("udp", l.Addr().String())
	if err != nil {
		l.Close()
		t.Log(err)
		t.FailNow()
	}
	spc := cipher.PacketConn(pc)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, from, err := spc.ReadFrom(buf)
			if err != nil {
				return
			}
			spc.WriteTo(buf[:n], from)
		}
	}()

	return l.Addr().String(), func() {
		l.Close()
		pc.Close()
	}
}

func newClient(t *testing.T, method, addr string) proxy.Client {
	a, _ := netLayer.NewAddrByHostPort(addr)
	c, err := proxy.NewClient(&proxy.DialConf{
		Protocol: Name,
		IP:       a.IP.String(),
		Port:     a.Port,
		Method:   method,
		Password: testPass,
	})
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	return c
}

func testTCP(t *testing.T, method string) {
	cipher, err := initShadowCipher(method, testPass)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	target := netLayer.NewDomainAddr("example.com", 443)
	addr, stop := startServer(t, cipher, target.String())
	defer stop()

	c := newClient(t, method, addr)

	app, lc := net.Pipe()
	go c.HandleTCP(lc, target)

	app.Write([]byte("hello ss"))
	buf := make([]byte, 8)
	app.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(app, buf); err != nil || string(buf) != "hello ss" {
		t.Log(method, string(buf), err)
		t.FailNow()
	}
	app.Close()
}

func TestTCP_AEAD(t *testing.T) {
	testTCP(t, "aes-128-gcm")
}

func TestTCP_Stream(t *testing.T) {
	testTCP(t, "aes-256-cfb")
}

func TestUDP(t *testing.T) {
	method := "chacha20-ietf-poly1305"
	cipher, err := initShadowCipher(method, testPass)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	addr, stop := startServer(t, cipher, "")
	defer stop()

	c := newClient(t, method, addr)

	target := netLayer.Addr{IP: net.IPv4(10, 0, 0, 3), Port: 53}
	app, lcConn := net.Pipe()
	go c.HandleUDP(netLayer.UniTargetMsgConn{Conn: lcConn, Target: target}, target)

	app.Write([]byte("udp over ss"))
	buf := make([]byte, 64)
	app.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := app.Read(buf)
	if err != nil || string(buf[:n]) != "udp over ss" {
		t.Log(string(buf[:n]), err)
		t.FailNow()
	}
	app.Close()
}

func TestBadMethod(t *testing.T) {
	if _, err := initShadowCipher("no-such-method", testPass); err == nil {
		t.FailNow()
	}
	if _, err := initShadowCipher("aes-128-gcm", ""); err == nil {
		t.FailNow()
	}
}
