/*
Package tproxy 是 linux 下 基于 TPROXY 的 tun.Source 实现.

透明代理只能用于linux。

About TProxy 关于透明代理

透明代理原理
https://www.kernel.org/doc/html/latest/networking/tproxy.html

https://powerdns.org/tproxydoc/tproxy.md.html

关键点在于

1. 要使用 IP_TRANSPARENT 监听

2. 监听到的 tcp连接 的 localAddr实际上是 真实的目标地址, 而不是我们监听的地址;

3. udp 要用 IP_RECVORIGDSTADDR 从 控制消息 中读出 真实的目标地址, 回包时
要用一个 绑定在该目标地址上的 透明socket 写回.

每个 (来源, 目标) 对应一个 udp 会话, 作为一个 datagram Socket 交出.

Iptables

iptables配置教程：
https://toutyrater.github.io/app/tproxy.html

SetIPTables 执行的命令 就是该教程里的命令, 链名改为 SEEKER / SEEKER_MASK;
给出 uid 时, 本机流量 只有该用户的 才会被标记.
本程序自己的出站socket 都带有 netLayer.DefaultSomark, OUTPUT 链 按这个标记 放行.

单独设置iptables，重启后会消失. 持久化方法

	mkdir -p /etc/iptables && iptables-save > /etc/iptables/rules.v4
*/
package tproxy

import (
	"fmt"

	"github.com/e1732a364fed/seeker/netLayer"
)

const (
	DefaultPort    = 12345
	DefaultBacklog = 128

	// 写回客户端的 udp包 的队列长度
	DefaultReplyQueueLen = 256

	sessionReadQueueLen = 64
)

const (
	chainName     = "SEEKER"
	maskChainName = "SEEKER_MASK"
)

// iptablesRules 返回 设置 和 清理 的命令. uid < 0 表示不限制用户.
func iptablesRules(port, uid int) (setup, cleanup []string) {
	owner := ""
	if uid >= 0 {
		owner = fmt.Sprintf(" -m owner --uid-owner %d", uid)
	}

	routes := []string{
		"ip rule %s fwmark 1 table 100",
		"ip route %s local 0.0.0.0/0 dev lo table 100",
	}

	chain := []string{
		"-d 127.0.0.1/32 -j RETURN",
		"-d 224.0.0.0/4 -j RETURN",
		"-d 255.255.255.255/32 -j RETURN",
		"-d 192.168.0.0/16 -p tcp -j RETURN",
		"-d 192.168.0.0/16 -p udp ! --dport 53 -j RETURN",
		fmt.Sprintf("-p udp -j TPROXY --on-port %d --tproxy-mark 1", port),
		fmt.Sprintf("-p tcp -j TPROXY --on-port %d --tproxy-mark 1", port),
	}
	mask := []string{
		"-d 224.0.0.0/4 -j RETURN",
		"-d 255.255.255.255/32 -j RETURN",
		"-d 192.168.0.0/16 -p tcp -j RETURN",
		"-d 192.168.0.0/16 -p udp ! --dport 53 -j RETURN",
		fmt.Sprintf("-j RETURN -m mark --mark %#x", netLayer.DefaultSomark),
		"-p udp" + owner + " -j MARK --set-mark 1",
		"-p tcp" + owner + " -j MARK --set-mark 1",
	}

	for _, r := range routes {
		setup = append(setup, fmt.Sprintf(r, "add"))
		cleanup = append(cleanup, fmt.Sprintf(r, "del"))
	}

	setup = append(setup, "iptables -t mangle -N "+chainName)
	for _, r := range chain {
		setup = append(setup, "iptables -t mangle -A "+chainName+" "+r)
	}
	setup = append(setup, "iptables -t mangle -A PREROUTING -j "+chainName)

	setup = append(setup, "iptables -t mangle -N "+maskChainName)
	for _, r := range mask {
		setup = append(setup, "iptables -t mangle -A "+maskChainName+" "+r)
	}
	setup = append(setup, "iptables -t mangle -A OUTPUT -j "+maskChainName)

	//先从 内置链 中摘掉引用, 才能删除自定义链
	cleanup = append(cleanup,
		"iptables -t mangle -D PREROUTING -j "+chainName,
		"iptables -t mangle -D OUTPUT -j "+maskChainName,
		"iptables -t mangle -F "+chainName,
		"iptables -t mangle -X "+chainName,
		"iptables -t mangle -F "+maskChainName,
		"iptables -t mangle -X "+maskChainName,
	)
	return
}
