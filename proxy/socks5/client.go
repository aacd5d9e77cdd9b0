package socks5

import (
	"io"
	"net"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/proxy"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"
)

func init() {
	proxy.RegisterClient(Name, ClientCreator{})
}

type ClientCreator struct{}

func (ClientCreator) NewClient(dc *proxy.DialConf) (proxy.Client, error) {
	if dc.Port <= 0 {
		return nil, utils.NumErr{N: dc.Port, Prefix: "socks5 server port illegal: "}
	}
	c := &Client{
		serverAddr: dc.GetAddrStr(),
		dialer:     proxy.NewDialer(dc),
		timeout:    dc.GetTimeout(),
	}
	if dc.User != "" {
		c.auth = &xproxy.Auth{User: dc.User, Password: dc.Password}
	}

	var err error
	c.tcpDialer, err = xproxy.SOCKS5("tcp", c.serverAddr, c.auth, c.dialer)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client tcp 使用 x/net/proxy 的 socks5 CONNECT 实现; udp 使用 UDP ASSOCIATE.
type Client struct {
	serverAddr string
	auth       *xproxy.Auth
	dialer     *net.Dialer
	timeout    time.Duration

	tcpDialer xproxy.Dialer
}

func (*Client) Name() string { return Name }

func (c *Client) HandleTCP(conn net.Conn, target netLayer.Addr) error {
	rc, err := c.tcpDialer.Dial("tcp", target.String())
	if err != nil {
		conn.Close()
		return utils.ErrInErr{ErrDesc: "socks5 connect failed", ErrDetail: err, Data: target.String()}
	}

	up, down := netLayer.Relay(conn, rc)

	if ce := utils.CanLogDebug("socks5 tcp relay end"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Int64("up", up), zap.Int64("down", down))
	}
	return nil
}

func (c *Client) HandleUDP(conn netLayer.MsgConn, target netLayer.Addr) error {
	uc, err := c.associate()
	if err != nil {
		conn.Close()
		return utils.ErrInErr{ErrDesc: "socks5 udp associate failed", ErrDetail: err, Data: c.serverAddr}
	}

	up, down := netLayer.RelayUDP(conn, uc, target)

	if ce := utils.CanLogDebug("socks5 udp relay end"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Uint64("up", up), zap.Uint64("down", down))
	}
	return nil
}

// 握手, 包括可能的用户名密码认证
func (c *Client) handshake(tc net.Conn) error {
	if c.auth == nil {
		if _, err := tc.Write([]byte{Version5, 1, AuthNone}); err != nil {
			return err
		}
	} else {
		if _, err := tc.Write([]byte{Version5, 2, AuthNone, AuthPassword}); err != nil {
			return err
		}
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(tc, reply); err != nil {
		return err
	}
	if reply[0] != Version5 {
		return ErrBadReply
	}

	switch reply[1] {
	case AuthNone:
		return nil
	case AuthPassword:
		if c.auth == nil {
			return ErrBadReply
		}
		// rfc 1929
		req := []byte{1, byte(len(c.auth.User))}
		req = append(req, c.auth.User...)
		req = append(req, byte(len(c.auth.Password)))
		req = append(req, c.auth.Password...)
		if _, err := tc.Write(req); err != nil {
			return err
		}
		if _, err := io.ReadFull(tc, reply); err != nil {
			return err
		}
		if reply[1] != 0 {
			return utils.ErrInErr{ErrDesc: "socks5 auth failed", Data: reply[1]}
		}
		return nil
	}
	return utils.ErrInErr{ErrDesc: "socks5 no acceptable auth method", ErrDetail: ErrBadReply, Data: reply[1]}
}

// associate 建立 udp associate, 控制用的 tcp连接 在 udp 结束前需保持打开.
func (c *Client) associate() (*ClientUDPConn, error) {
	tc, err := c.dialer.Dial("tcp", c.serverAddr)
	if err != nil {
		return nil, err
	}
	tc.SetDeadline(time.Now().Add(c.timeout))

	if err = c.handshake(tc); err != nil {
		tc.Close()
		return nil, err
	}

	req := []byte{Version5, CmdUDPAssociate, 0, ATypIP4, 0, 0, 0, 0, 0, 0}
	if _, err = tc.Write(req); err != nil {
		tc.Close()
		return nil, err
	}

	head := make([]byte, 3)
	if _, err = io.ReadFull(tc, head); err != nil {
		tc.Close()
		return nil, err
	}
	if head[0] != Version5 || head[1] != 0 {
		tc.Close()
		return nil, utils.ErrInErr{ErrDesc: "socks5 udp associate refused", ErrDetail: ErrBadReply, Data: head[1]}
	}
	bnd, err := readAddr(tc)
	if err != nil {
		tc.Close()
		return nil, err
	}
	tc.SetDeadline(time.Time{})

	// 服务端返回 0.0.0.0 时, 使用 服务器的地址
	if bnd.IsDomain() || bnd.IP.IsUnspecified() {
		host, _, _ := net.SplitHostPort(tc.RemoteAddr().String())
		bnd.IP = net.ParseIP(host)
		bnd.Name = ""
	}

	udpConn, err := c.dialer.Dial("udp", bnd.String())
	if err != nil {
		tc.Close()
		return nil, err
	}

	uc := &ClientUDPConn{Conn: udpConn, control: tc}
	go uc.watchControl()
	return uc, nil
}

// ClientUDPConn 实现 netLayer.MsgConn
type ClientUDPConn struct {
	net.Conn
	control net.Conn
}

// 控制连接 断开时, 关闭 udp.
func (u *ClientUDPConn) watchControl() {
	io.Copy(io.Discard, u.control)
	u.Conn.Close()
}

func (u *ClientUDPConn) ReadMsgFrom() ([]byte, netLayer.Addr, error) {
	bs := utils.GetPacket()
	n, err := u.Conn.Read(bs)
	if err != nil {
		utils.PutPacket(bs)
		return nil, netLayer.Addr{}, err
	}
	a, data, err := UnpackUDP(bs[:n])
	if err != nil {
		utils.PutPacket(bs)
		return nil, a, err
	}
	return utils.DetachPacket(bs, data), a, nil
}

func (u *ClientUDPConn) WriteMsgTo(bs []byte, a netLayer.Addr) error {
	pkt, err := PackUDP(a, bs)
	if err != nil {
		return err
	}
	_, err = u.Conn.Write(pkt)
	return err
}

func (u *ClientUDPConn) Close() error {
	u.control.Close()
	return u.Conn.Close()
}
