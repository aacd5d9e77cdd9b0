package proxy

import (
	"net"

	"github.com/e1732a364fed/seeker/netLayer"
)

type RejectCreator struct{}

func (RejectCreator) NewClient(*DialConf) (Client, error) {
	return RejectClient{}, nil
}

// RejectClient 直接关闭流, 用于屏蔽广告等.
type RejectClient struct{}

func (RejectClient) Name() string { return RejectName }

func (RejectClient) HandleTCP(conn net.Conn, _ netLayer.Addr) error {
	return conn.Close()
}

func (RejectClient) HandleUDP(conn netLayer.MsgConn, _ netLayer.Addr) error {
	return conn.Close()
}
