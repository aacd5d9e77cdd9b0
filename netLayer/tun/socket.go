// Package tun defines the flow sockets surfaced by a virtual network interface,
// the Source contract the dispatcher consumes, and helpers for drivers that feed it.
package tun

import (
	"net"
	"net/netip"

	"github.com/e1732a364fed/seeker/netLayer"
)

// Kind 为拦截到的流的种类, 只有两种.
type Kind uint8

const (
	KindStream Kind = iota + 1
	KindDatagram
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindDatagram:
		return "datagram"
	}
	return "unknown"
}

// Network 返回 "tcp" 或 "udp"
func (k Kind) Network() string {
	if k == KindDatagram {
		return "udp"
	}
	return "tcp"
}

// Socket 是虚拟网卡交出的一条流, 要么是 stream (net.Conn), 要么是 datagram (netLayer.MsgConn).
//
// 只能通过 NewStreamSocket / NewDatagramSocket 构造, 使用者按 Kind() 分派.
// Socket 归唯一一个处理它的 goroutine 所有, 由它负责 Close.
type Socket struct {
	kind     Kind
	stream   net.Conn
	datagram netLayer.MsgConn

	endpoint netip.AddrPort
	source   netip.AddrPort
}

// NewStreamSocket endpoint 为在虚拟网卡上观察到的目标地址, 即连接本来要去的地方.
func NewStreamSocket(conn net.Conn, endpoint netip.AddrPort) Socket {
	s := Socket{
		kind:     KindStream,
		stream:   conn,
		endpoint: endpoint,
	}
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.source = ta.AddrPort()
	}
	return s
}

func NewDatagramSocket(mc netLayer.MsgConn, endpoint, source netip.AddrPort) Socket {
	return Socket{
		kind:     KindDatagram,
		datagram: mc,
		endpoint: endpoint,
		source:   source,
	}
}

func (s Socket) Kind() Kind {
	return s.kind
}

// Stream 仅在 Kind()==KindStream 时有值
func (s Socket) Stream() net.Conn {
	return s.stream
}

// Datagram 仅在 Kind()==KindDatagram 时有值
func (s Socket) Datagram() netLayer.MsgConn {
	return s.datagram
}

func (s Socket) Endpoint() netip.AddrPort {
	return s.endpoint
}

// Source 为发起这条流的本机/局域网客户端地址, 可能无效(未知).
func (s Socket) Source() netip.AddrPort {
	return s.source
}

func (s Socket) IsValid() bool {
	return s.kind == KindStream && s.stream != nil || s.kind == KindDatagram && s.datagram != nil
}

func (s Socket) Close() error {
	switch s.kind {
	case KindStream:
		if s.stream != nil {
			return s.stream.Close()
		}
	case KindDatagram:
		if s.datagram != nil {
			return s.datagram.Close()
		}
	}
	return nil
}

func (s Socket) String() string {
	return s.kind.Network() + "://" + s.source.String() + "->" + s.endpoint.String()
}
