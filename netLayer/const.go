package netLayer

import "time"

const (
	// transport Layer

	TCP uint16 = 1 << iota
	UDP
)

const UnknownNetwork = 0

func StrToTransportProtocol(s string) uint16 {
	switch s {
	case "tcp", "tcp4", "tcp6":
		return TCP
	case "udp", "udp4", "udp6":
		return UDP
	}
	return UnknownNetwork
}

const (
	// udp 会话在这么长时间内没有数据就会被关闭
	UDP_timeout = time.Minute * 3

	// MaxUDP_packetLen 为 udp包 最大长度 (65535－20－8)
	MaxUDP_packetLen = 65507

	// tcp 转发时, 一方关闭写之后, 另一方向最多再等这么久
	TCP_halfCloseTimeout = time.Second * 10
)
