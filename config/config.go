/*
Package config 定义 seeker 的 toml 配置文件格式.

使用toml：https://toml.io/cn/v1.0.0

	log_level = 1
	fake_cidr = "11.0.0.0/16"
	dns_start_ip = "11.0.0.10"
	dns_server = "223.5.5.5:53"
	default = "proxy"

	[source]
	listen = "0.0.0.0:12345"
	auto_iptables = true

	[[dial]]
	tag = "proxy"
	protocol = "shadowsocks"
	host = "example.com"
	port = 8388
	method = "chacha20-ietf-poly1305"
	pass = "password"

	[[route]]
	toTag = "direct"
	country = ["CN"]
	domain = ["domain:cn"]

	[hosts]
	"router.lan" = "192.168.1.1"

Route 路由规则

country 和 ip 规则 只匹配 ip 形式的目标. 经过假dns 的流, 目标被恢复为域名,
只有 domain 规则 能匹配它们; 哪些域名 绕过假dns 直接用真实ip, 也只由 domain 规则 决定.
所以 要直连的地区, 除了 country 之外 还要给出对应的 domain.
*/
package config

import (
	"io"
	"net/netip"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/proxy"
	"github.com/e1732a364fed/seeker/utils"
)

const (
	DefaultConfFn = "seeker.toml"

	DefaultFakeCIDR   = "11.0.0.0/16"
	DefaultDNSStartIP = "11.0.0.10"
	DefaultDNSListen  = "127.0.0.1:53"
	DefaultDNSServer  = "223.5.5.5:53"
	DefaultDNSDB      = "dns.db"

	GatewayDNSListen = "0.0.0.0:53"

	DefaultSourceListen = "0.0.0.0:12345"

	DefaultApiAddr   = "127.0.0.1:48345"
	DefaultApiPrefix = "/api"

	SourceTproxy = "tproxy"
)

type SourceConf struct {
	Type         string `toml:"type"` //目前只有 tproxy
	Listen       string `toml:"listen"`
	AutoIPTables bool   `toml:"auto_iptables"`
	UID          *int   `toml:"uid"` //只代理该用户的本机流量; -u 参数优先
	Backlog      int    `toml:"backlog"`
}

/*
curl http://127.0.0.1:48345/api/allstate
*/
type ApiConf struct {
	Enable     bool   `toml:"enable"`
	Addr       string `toml:"addr"`
	PathPrefix string `toml:"prefix"`
	AdminPass  string `toml:"admin_pass"` //为空时 不验证
}

// AppConf 是整个配置文件.
type AppConf struct {
	LogLevel *int    `toml:"log_level"` //需要为指针, 否则无法判断0到底是未给出的默认值还是 显式声明的0
	LogFile  *string `toml:"log_file"`

	GeoipFile string `toml:"geoip_file"`

	FakeCIDR   string `toml:"fake_cidr"`
	DNSStartIP string `toml:"dns_start_ip"`
	DNSListen  string `toml:"dns_listen"`
	DNSServer  string `toml:"dns_server"`
	DNSDB      string `toml:"dns_db"`
	DNSTTL     int    `toml:"dns_ttl"`

	GatewayMode bool `toml:"gateway_mode"`

	// 把 /etc/resolv.conf 改为指向 dns_listen, 退出时恢复
	SetupResolv bool `toml:"setup_resolv"`

	DefaultTag string `toml:"default"`

	Source SourceConf `toml:"source"`
	Api    ApiConf    `toml:"api"`

	Dial  []*proxy.DialConf    `toml:"dial"`
	Route []*netLayer.RuleConf `toml:"route"`

	Hosts map[string]string `toml:"hosts"`
}

func LoadTomlConfStr(str string) (c *AppConf, err error) {
	c = &AppConf{}
	if _, err = toml.Decode(str, c); err != nil {
		return nil, utils.ErrInErr{ErrDesc: "can't decode toml config", ErrDetail: err}
	}
	c.SetDefaults()
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadTomlConfFile(fileNamePath string) (*AppConf, error) {
	bs, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "can't open config file", ErrDetail: err, Data: fileNamePath}
	}
	return LoadTomlConfStr(string(bs))
}

// SetDefaults 填充未给出的项. gateway_mode 下 dns 必须能被局域网访问, 所以 dns_listen 强制为 0.0.0.0:53
func (c *AppConf) SetDefaults() {
	if c.FakeCIDR == "" {
		c.FakeCIDR = DefaultFakeCIDR
	}
	if c.DNSStartIP == "" {
		c.DNSStartIP = DefaultDNSStartIP
	}
	if c.DNSListen == "" {
		c.DNSListen = DefaultDNSListen
	}
	if c.DNSServer == "" {
		c.DNSServer = DefaultDNSServer
	}
	if c.DNSDB == "" {
		c.DNSDB = DefaultDNSDB
	}
	if c.GatewayMode {
		c.DNSListen = GatewayDNSListen
	}

	if c.Source.Type == "" {
		c.Source.Type = SourceTproxy
	}
	if c.Source.Listen == "" {
		c.Source.Listen = DefaultSourceListen
	}

	if c.Api.Addr == "" {
		c.Api.Addr = DefaultApiAddr
	}
	if c.Api.PathPrefix == "" {
		c.Api.PathPrefix = DefaultApiPrefix
	}
}

func field(name, value string) error {
	return utils.ErrInErr{ErrDesc: "invalid config item " + name, ErrDetail: utils.ErrWrongParameter, Data: value}
}

func (c *AppConf) Validate() error {
	if c.LogLevel != nil && (*c.LogLevel < utils.Log_debug || *c.LogLevel > utils.Log_fatal) {
		return field("log_level", strconv.Itoa(*c.LogLevel))
	}
	if !govalidator.IsCIDR(c.FakeCIDR) {
		return field("fake_cidr", c.FakeCIDR)
	}
	if !govalidator.IsIPv4(c.DNSStartIP) {
		return field("dns_start_ip", c.DNSStartIP)
	}
	if _, _, err := c.FakeRange(); err != nil {
		return err
	}
	if !govalidator.IsDialString(c.DNSListen) {
		return field("dns_listen", c.DNSListen)
	}
	if !govalidator.IsDialString(c.DNSServer) {
		return field("dns_server", c.DNSServer)
	}
	if c.DNSTTL < 0 {
		return field("dns_ttl", strconv.Itoa(c.DNSTTL))
	}

	if c.Source.Type != SourceTproxy {
		return field("source.type", c.Source.Type)
	}
	if !govalidator.IsDialString(c.Source.Listen) {
		return field("source.listen", c.Source.Listen)
	}
	if c.Source.UID != nil && *c.Source.UID < 0 {
		return field("source.uid", strconv.Itoa(*c.Source.UID))
	}
	if c.Api.Enable && !govalidator.IsDialString(c.Api.Addr) {
		return field("api.addr", c.Api.Addr)
	}

	for i, dc := range c.Dial {
		name := "dial[" + strconv.Itoa(i) + "]"
		if dc.Protocol == "" {
			return field(name+".protocol", "")
		}
		if dc.Protocol == proxy.DirectName || dc.Protocol == proxy.RejectName {
			continue
		}
		if dc.Host != "" && !govalidator.IsHost(dc.Host) {
			return field(name+".host", dc.Host)
		}
		if dc.IP != "" && !govalidator.IsIP(dc.IP) {
			return field(name+".ip", dc.IP)
		}
		if dc.Host == "" && dc.IP == "" {
			return field(name+".host", "")
		}
		if !govalidator.IsPort(strconv.Itoa(dc.Port)) {
			return field(name+".port", strconv.Itoa(dc.Port))
		}
		if dc.DNS != "" && !govalidator.IsDialString(dc.DNS) {
			return field(name+".dns", dc.DNS)
		}
	}

	if _, err := c.HostsMap(); err != nil {
		return err
	}
	return nil
}

// FakeRange 返回 假ip 的起始ip 与 网段.
func (c *AppConf) FakeRange() (start netip.Addr, prefix netip.Prefix, err error) {
	prefix, err = netip.ParsePrefix(c.FakeCIDR)
	if err != nil {
		return start, prefix, field("fake_cidr", c.FakeCIDR)
	}
	start, err = netip.ParseAddr(c.DNSStartIP)
	if err != nil {
		return start, prefix, field("dns_start_ip", c.DNSStartIP)
	}
	prefix = prefix.Masked()
	if !prefix.Contains(start) {
		return start, prefix, field("dns_start_ip (not in fake_cidr)", c.DNSStartIP)
	}
	return
}

func (c *AppConf) HostsMap() (map[string]netip.Addr, error) {
	m := make(map[string]netip.Addr, len(c.Hosts))
	for domain, ipStr := range c.Hosts {
		ip, err := netip.ParseAddr(ipStr)
		if err != nil || !govalidator.IsDNSName(domain) {
			return nil, field("hosts."+domain, ipStr)
		}
		m[domain] = ip
	}
	return m, nil
}

// UID 返回要代理的用户; flagUID >= 0 时优先. 都没有时返回 -1.
func (c *AppConf) UID(flagUID int) int {
	if flagUID >= 0 {
		return flagUID
	}
	if c.Source.UID != nil {
		return *c.Source.UID
	}
	return -1
}

// Setup 把日志相关的配置 应用到 utils. 命令行参数 优先于 配置文件.
func (c *AppConf) Setup() {
	if c.LogFile != nil && utils.GivenFlags["lf"] == nil {
		utils.LogOutFileName = *c.LogFile
	}
	if c.LogLevel != nil && utils.GivenFlags["ll"] == nil {
		utils.LogLevel = *c.LogLevel
	}
}

// DumpPurged 输出 去掉空值项之后的 toml.
func (c *AppConf) DumpPurged(w io.Writer) error {
	str, err := utils.GetPurgedTomlStr(c)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, str)
	return err
}
