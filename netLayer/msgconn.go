package netLayer

import (
	"net"
	"time"

	"github.com/e1732a364fed/seeker/utils"
)

type NetDeadliner interface {
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// MsgConn一般用于 udp. 是一种类似 net.PacketConn 的包装.
// 实现 MsgConn接口 的类型 可以被用于 RelayUDP 进行转发。
//
// ReadMsgFrom直接返回数据, 这样可以尽量避免多次数据拷贝。
//
// 使用Addr，是因为请求地址有可能是个域名，而不是ip.
type MsgConn interface {
	NetDeadliner

	ReadMsgFrom() ([]byte, Addr, error)
	WriteMsgTo([]byte, Addr) error
	Close() error
}

// UniTargetMsgConn 是 symmetric 的, 所有消息都来自/发往 Target. 实现 MsgConn 和 net.Conn
type UniTargetMsgConn struct {
	net.Conn
	Target Addr
}

func (u UniTargetMsgConn) ReadMsgFrom() ([]byte, Addr, error) {
	bs := utils.GetPacket()

	n, err := u.Conn.Read(bs)
	if err != nil {
		utils.PutPacket(bs)
		return nil, Addr{}, err
	}
	return utils.DetachPacket(bs, bs[:n]), u.Target, nil
}

func (u UniTargetMsgConn) WriteMsgTo(bs []byte, _ Addr) error {
	_, err := u.Conn.Write(bs)
	return err
}

// PacketMsgConn 把 net.PacketConn 包装成 MsgConn, 只支持 ip 形式的 Addr.
type PacketMsgConn struct {
	net.PacketConn
}

func (p PacketMsgConn) ReadMsgFrom() ([]byte, Addr, error) {
	bs := utils.GetPacket()

	n, ad, err := p.PacketConn.ReadFrom(bs)
	if err != nil {
		utils.PutPacket(bs)
		return nil, Addr{}, err
	}
	a, err := NewAddrFromNetAddr(ad)
	return utils.DetachPacket(bs, bs[:n]), a, err
}

func (p PacketMsgConn) WriteMsgTo(bs []byte, raddr Addr) error {
	ua := raddr.ToUDPAddr()
	if ua == nil {
		return utils.ErrInErr{ErrDesc: "PacketMsgConn can't write to domain addr", ErrDetail: utils.ErrWrongParameter, Data: raddr.String()}
	}
	_, err := p.PacketConn.WriteTo(bs, ua)
	return err
}
