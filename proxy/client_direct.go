package proxy

import (
	"net"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
)

type DirectCreator struct{}

func (DirectCreator) NewClient(dc *DialConf) (Client, error) {
	return &DirectClient{dialer: NewDialer(dc)}, nil
}

// DirectClient 直连目标.
type DirectClient struct {
	dialer *net.Dialer
}

func NewDirectClient() *DirectClient {
	return &DirectClient{dialer: NewDialer(&DialConf{})}
}

func (*DirectClient) Name() string { return DirectName }

func (d *DirectClient) HandleTCP(conn net.Conn, target netLayer.Addr) error {
	rc, err := d.dialer.Dial("tcp", target.String())
	if err != nil {
		conn.Close()
		return utils.ErrInErr{ErrDesc: "direct dial tcp failed", ErrDetail: err, Data: target.String()}
	}

	up, down := netLayer.Relay(conn, rc)

	if ce := utils.CanLogDebug("direct tcp relay end"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Int64("up", up), zap.Int64("down", down))
	}
	return nil
}

func (d *DirectClient) HandleUDP(conn netLayer.MsgConn, target netLayer.Addr) error {
	rc, err := d.dialer.Dial("udp", target.String())
	if err != nil {
		conn.Close()
		return utils.ErrInErr{ErrDesc: "direct dial udp failed", ErrDetail: err, Data: target.String()}
	}

	up, down := netLayer.RelayUDP(conn, netLayer.UniTargetMsgConn{Conn: rc, Target: target}, target)

	if ce := utils.CanLogDebug("direct udp relay end"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Uint64("up", up), zap.Uint64("down", down))
	}
	return nil
}
