package netLayer

import (
	"context"
	"net"
	"syscall"
)

// DefaultSomark 是 本程序 所有出站socket 的 SO_MARK.
// 透明代理的 OUTPUT 链 放行带这个标记的包, 否则 出站流量 会被再次导入 代理端口.
const DefaultSomark = 0xff

// SomarkControl 返回 设置 SO_MARK 的 Control 函数, 可用于 net.Dialer 和 net.ListenConfig.
//
// 设置失败 (如 没有 CAP_NET_ADMIN) 只记录日志, 不影响 拨号.
func SomarkControl(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			setSomark(int(fd), mark)
		})
	}
}

// ListenMarkedPacket 监听一个 带 DefaultSomark 的 udp socket, address 可为空.
func ListenMarkedPacket(network, address string) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: SomarkControl(DefaultSomark)}
	return lc.ListenPacket(context.Background(), network, address)
}
