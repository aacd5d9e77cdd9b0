package shadowsocks

import (
	"net"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/proxy"
	"github.com/e1732a364fed/seeker/utils"
	"github.com/shadowsocks/go-shadowsocks2/core"
	"github.com/shadowsocks/go-shadowsocks2/socks"
	"go.uber.org/zap"
)

func init() {
	proxy.RegisterClient(Name, ClientCreator{})
}

type ClientCreator struct{}

func (ClientCreator) NewClient(dc *proxy.DialConf) (proxy.Client, error) {
	cipher, err := initShadowCipher(dc.Method, dc.Password)
	if err != nil {
		return nil, err
	}
	if dc.Port <= 0 {
		return nil, utils.NumErr{N: dc.Port, Prefix: "shadowsocks server port illegal: "}
	}
	return &Client{
		serverAddr: dc.GetAddrStr(),
		cipher:     cipher,
		dialer:     proxy.NewDialer(dc),
	}, nil
}

type Client struct {
	serverAddr string
	cipher     core.Cipher
	dialer     *net.Dialer
}

func (*Client) Name() string { return Name }

func targetHeader(target netLayer.Addr) (socks.Addr, error) {
	a := socks.ParseAddr(target.String())
	if a == nil {
		return nil, utils.ErrInErr{ErrDesc: "shadowsocks can't encode target", ErrDetail: utils.ErrInvalidData, Data: target.String()}
	}
	return a, nil
}

func (c *Client) HandleTCP(conn net.Conn, target netLayer.Addr) error {
	header, err := targetHeader(target)
	if err != nil {
		conn.Close()
		return err
	}

	rc, err := c.dialer.Dial("tcp", c.serverAddr)
	if err != nil {
		conn.Close()
		return utils.ErrInErr{ErrDesc: "shadowsocks dial server failed", ErrDetail: err, Data: c.serverAddr}
	}
	sc := c.cipher.StreamConn(rc)

	if _, err = sc.Write(header); err != nil {
		conn.Close()
		sc.Close()
		return utils.ErrInErr{ErrDesc: "shadowsocks write target failed", ErrDetail: err, Data: target.String()}
	}

	up, down := netLayer.Relay(conn, sc)

	if ce := utils.CanLogDebug("shadowsocks tcp relay end"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Int64("up", up), zap.Int64("down", down))
	}
	return nil
}

func (c *Client) HandleUDP(conn netLayer.MsgConn, target netLayer.Addr) error {
	serverUDP, err := net.ResolveUDPAddr("udp", c.serverAddr)
	if err != nil {
		conn.Close()
		return err
	}
	pc, err := netLayer.ListenMarkedPacket("udp", "")
	if err != nil {
		conn.Close()
		return err
	}

	mc := &UDPConn{PacketConn: c.cipher.PacketConn(pc), server: serverUDP}

	up, down := netLayer.RelayUDP(conn, mc, target)

	if ce := utils.CanLogDebug("shadowsocks udp relay end"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Uint64("up", up), zap.Uint64("down", down))
	}
	return nil
}

// UDPConn 实现 netLayer.MsgConn. 每个包开头是 socks 格式的地址.
type UDPConn struct {
	net.PacketConn
	server *net.UDPAddr
}

func (u *UDPConn) ReadMsgFrom() ([]byte, netLayer.Addr, error) {
	bs := utils.GetPacket()
	for {
		n, from, err := u.PacketConn.ReadFrom(bs)
		if err != nil {
			utils.PutPacket(bs)
			return nil, netLayer.Addr{}, err
		}
		if ua, ok := from.(*net.UDPAddr); ok && !ua.IP.Equal(u.server.IP) {
			continue //不是来自服务器的包
		}
		sa := socks.SplitAddr(bs[:n])
		if sa == nil {
			continue
		}
		a, err := netLayer.NewAddrByHostPort(sa.String())
		if err != nil {
			continue
		}
		return utils.DetachPacket(bs, bs[len(sa):n]), a, nil
	}
}

func (u *UDPConn) WriteMsgTo(p []byte, a netLayer.Addr) error {
	header, err := targetHeader(a)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(header)+len(p))
	buf = append(buf, header...)
	buf = append(buf, p...)
	_, err = u.PacketConn.WriteTo(buf, u.server)
	return err
}
