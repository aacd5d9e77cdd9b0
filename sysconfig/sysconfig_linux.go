package sysconfig

// NewDNSSetup 重写 /etc/resolv.conf, Close 时恢复. 需要 root 权限.
// https://www.linuxfordevices.com/tutorials/linux/change-dns-on-linux
func NewDNSSetup(dnsIP string) (*DNSSetup, error) {
	return newDNSSetup(ResolvConfPath, dnsIP)
}

// NewIPForward 写入 /proc/sys/net/ipv4/ip_forward, Close 时恢复.
func NewIPForward() (*IPForward, error) {
	return newIPForward(IPForwardPath)
}
