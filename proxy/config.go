package proxy

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
)

const DefaultDialTimeout = 10 * time.Second

// DialConf 是 [[dial]] 的配置.
type DialConf struct {
	Tag      string `toml:"tag"`
	Protocol string `toml:"protocol"` //direct, reject, socks5, shadowsocks

	Host string `toml:"host"`
	IP   string `toml:"ip"`
	Port int    `toml:"port"`

	User     string `toml:"user"`
	Password string `toml:"pass"`
	Method   string `toml:"method"` //shadowsocks 的加密方法

	// DNS 不为空时, 拨号时的域名解析使用该 dns 服务器 (host:port), 而不是系统的dns.
	// 系统dns 有可能就是我们自己的 假dns, 所以 direct 一般要配置它.
	DNS string `toml:"dns"`

	Timeout int `toml:"timeout"` //秒

	Extra map[string]any `toml:"extra"`
}

// GetAddrStr 优先使用ip
func (dc *DialConf) GetAddrStr() string {
	host := dc.IP
	if host == "" {
		host = dc.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(dc.Port))
}

func (dc *DialConf) GetTimeout() time.Duration {
	if dc.Timeout > 0 {
		return time.Duration(dc.Timeout) * time.Second
	}
	return DefaultDialTimeout
}

// NewDialer 按 dc 的 Timeout 和 DNS 生成 net.Dialer.
// 拨出的socket 以及 dns查询 都带有 netLayer.DefaultSomark.
func NewDialer(dc *DialConf) *net.Dialer {
	d := &net.Dialer{
		Timeout: dc.GetTimeout(),
		Control: netLayer.SomarkControl(netLayer.DefaultSomark),
	}
	if dc.DNS != "" {
		server := dc.DNS
		d.Resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				nd := net.Dialer{Control: netLayer.SomarkControl(netLayer.DefaultSomark)}
				return nd.DialContext(ctx, network, server)
			},
		}
	}
	return d
}
