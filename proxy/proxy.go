/*
Package proxy defines the transport clients that service intercepted flows.

一个 Client 只负责 把一条已经拦截到的流 送往它的目标: 直连, 或经由某种代理协议.
流的所有权在调用 HandleTCP / HandleUDP 时交给 Client, 它们返回时 应已关闭该流.

direct 和 reject 在本包实现, 其它协议在子包中实现, 并在 init 中用 RegisterClient 注册.
*/
package proxy

import (
	"net"

	"github.com/e1732a364fed/seeker/netLayer"
)

// Client 是可以被多个 goroutine 同时使用的.
type Client interface {
	Name() string

	// HandleTCP 阻塞直到 conn 的转发结束.
	HandleTCP(conn net.Conn, target netLayer.Addr) error

	// HandleUDP 阻塞直到 conn 的转发结束. conn 读到的每一个包都应发往 target.
	HandleUDP(conn netLayer.MsgConn, target netLayer.Addr) error
}

const (
	DirectName = "direct"
	RejectName = "reject"
)
