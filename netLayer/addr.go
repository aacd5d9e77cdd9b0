package netLayer

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/e1732a364fed/seeker/utils"
)

// Addr represents a address that a flow wants to reach. Either Name or IP is used exclusively.
//
// Addr 完整地表示了一个传输层的目标，同时用 Network 字段来记录协议名(tcp/udp).
// 拦截到的流恢复出的目标地址(Destination) 就是一个 Addr: 若能查到域名, 则 Name 有值, 否则 IP 有值.
type Addr struct {
	Network string
	Name    string // domain name
	IP      net.IP
	Port    int
}

// NewDomainAddr 用域名和端口生成一个 Addr; 域名会被转为小写, 末尾的点会被去掉.
func NewDomainAddr(name string, port int) Addr {
	return Addr{
		Name: strings.ToLower(strings.TrimSuffix(name, ".")),
		Port: port,
	}
}

// NewAddrFromAddrPort 原样使用 ap 中的 ip 和 端口; ipv4-mapped ipv6 会被转为 ipv4.
func NewAddrFromAddrPort(ap netip.AddrPort) Addr {
	return Addr{
		IP:   ap.Addr().Unmap().AsSlice(),
		Port: int(ap.Port()),
	}
}

func NewAddrFromUDPAddr(addr *net.UDPAddr) Addr {
	return Addr{
		IP:      addr.IP,
		Port:    addr.Port,
		Network: "udp",
	}
}

func NewAddrFromTCPAddr(addr *net.TCPAddr) Addr {
	return Addr{
		IP:      addr.IP,
		Port:    addr.Port,
		Network: "tcp",
	}
}

// addrStr格式一般为 host:port ；如果不含冒号，将直接认为该字符串是域名, 端口为0
func NewAddr(addrStr string) (Addr, error) {
	if !strings.Contains(addrStr, ":") {
		return Addr{Name: addrStr}, nil
	}
	return NewAddrByHostPort(addrStr)
}

// hostPortStr格式 必须为 host:port
func NewAddrByHostPort(hostPortStr string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostPortStr)
	if err != nil {
		return Addr{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Addr{}, err
	}
	if port < 0 || port > 65535 {
		return Addr{}, utils.NumErr{N: port, Prefix: "invalid port: "}
	}

	a := Addr{Port: port}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a, nil
}

// NewAddrFromNetAddr 支持 *net.TCPAddr, *net.UDPAddr 以及 其它 String() 为 ip:port 形式的 net.Addr
func NewAddrFromNetAddr(na net.Addr) (Addr, error) {
	switch value := na.(type) {
	case *net.TCPAddr:
		return NewAddrFromTCPAddr(value), nil
	case *net.UDPAddr:
		return NewAddrFromUDPAddr(value), nil
	case nil:
		return Addr{}, utils.ErrNilParameter
	}
	a, err := NewAddrByHostPort(na.String())
	if err != nil {
		return a, err
	}
	a.Network = na.Network()
	return a, nil
}

func (a *Addr) IsDomain() bool {
	return a.Name != "" && len(a.IP) == 0
}

// HostStr 返回域名, 或ip字符串
func (a *Addr) HostStr() string {
	if len(a.IP) == 0 {
		return a.Name
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		return ip4.String()
	}
	return a.IP.String()
}

// Return host:port string.
// 若有Name而没有ip，则返回 a.Name:a.Port . 否则返回 a.IP: a.Port;
func (a *Addr) String() string {
	return net.JoinHostPort(a.HostStr(), strconv.Itoa(a.Port))
}

// 返回以url表示的 地址. 如 udp://127.0.0.1:53
func (a *Addr) UrlString() string {
	if a.Network != "" {
		return a.Network + "://" + a.String()
	}
	return "tcp://" + a.String()
}

func (a *Addr) GetNetIPAddr() (na netip.Addr) {
	if len(a.IP) == 0 {
		return
	}
	na, _ = netip.AddrFromSlice(a.IP)
	return na.Unmap()
}

// 域名形式的 Addr 无法转换, 返回 nil
func (a *Addr) ToUDPAddr() *net.UDPAddr {
	if len(a.IP) == 0 {
		return nil
	}
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}
