/*
Package machine 把 假dns, 流的来源, 出口, 分派器 按配置组装成一个 可以直接运行的机器.

machine把所有运行所需要的代码包装起来，对外像一个黑盒子: New, Run, Stop.

关键点是不使用任何静态变量，所有变量都放在machine中。
*/
package machine

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/e1732a364fed/seeker"
	"github.com/e1732a364fed/seeker/config"
	"github.com/e1732a364fed/seeker/fakedns"
	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/netLayer/tproxy"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/proxy"
	"github.com/e1732a364fed/seeker/sysconfig"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"

	_ "github.com/e1732a364fed/seeker/proxy/shadowsocks"
	_ "github.com/e1732a364fed/seeker/proxy/socks5"
)

// dns.db 的保存间隔
const DefaultSaveInterval = time.Minute

// SourceCloser 是 可关闭的 流的来源
type SourceCloser interface {
	tun.Source
	io.Closer
}

type M struct {
	conf *config.AppConf
	uid  int

	DNS    *fakedns.Server
	Client *proxy.RuledClient
	Term   *seeker.Termination

	// NewSource 为 nil 时 使用 tproxy.Listen 监听 conf.Source.Listen
	NewSource func() (SourceCloser, error)

	SaveInterval time.Duration

	sync.RWMutex
	running    bool
	startTime  time.Time
	source     SourceCloser
	dispatcher *seeker.Dispatcher
	api        *apiServer
}

// New 按配置创建 机器, 但不监听任何端口. uid < 0 表示 不限制用户.
func New(conf *config.AppConf, uid int) (*M, error) {
	if conf == nil {
		return nil, utils.ErrNilParameter
	}

	if needGeoip(conf.Route) {
		if err := netLayer.LoadMaxmindGeoipFile(conf.GeoipFile); err != nil {
			if ce := utils.CanLogWarn("load geoip file failed, country rules won't match"); ce != nil {
				ce.Write(zap.Error(err))
			}
		}
	}

	client, err := proxy.NewRuledClient(conf.Dial, conf.Route, conf.DefaultTag)
	if err != nil {
		return nil, err
	}

	start, prefix, err := conf.FakeRange()
	if err != nil {
		return nil, err
	}
	pool, err := fakedns.NewPool(start, prefix)
	if err != nil {
		return nil, err
	}
	hosts, err := conf.HostsMap()
	if err != nil {
		return nil, err
	}

	ttl := uint32(fakedns.DefaultTTL)
	if conf.DNSTTL > 0 {
		ttl = uint32(conf.DNSTTL)
	}

	m := &M{
		conf:         conf,
		uid:          uid,
		Client:       client,
		Term:         &seeker.Termination{},
		SaveInterval: DefaultSaveInterval,
	}
	m.DNS = fakedns.NewServer(pool, fakedns.Conf{
		Listen:   conf.DNSListen,
		Upstream: conf.DNSServer,
		TTL:      ttl,
		Hosts:    hosts,
		// 直连的域名 用真实ip, 不需要回查
		Bypass: func(domain string) bool {
			return client.Route(domain, "tcp") == proxy.DirectName
		},
	})
	return m, nil
}

func needGeoip(rules []*netLayer.RuleConf) bool {
	for _, r := range rules {
		if len(r.Countries) > 0 {
			return true
		}
	}
	return false
}

func (m *M) IsRunning() bool {
	m.RLock()
	defer m.RUnlock()
	return m.running
}

// Stop 请求退出, 不阻塞. Run 会在一个 PollInterval 之内返回.
func (m *M) Stop() {
	utils.Info("Stopping...")
	m.Term.RequestStop()
}

func (m *M) listenSource() (SourceCloser, error) {
	if m.NewSource != nil {
		return m.NewSource()
	}
	tm, err := tproxy.Listen(m.conf.Source.Listen, m.conf.Source.Backlog)
	if err != nil {
		return nil, err
	}
	return tm, nil
}

// 系统dns 要指向的ip; 监听 0.0.0.0 时 用 127.0.0.1
func (m *M) localDNSIP() string {
	host, _, err := net.SplitHostPort(m.conf.DNSListen)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

// Run 启动所有部件并运行分派器, 阻塞直到 Stop 被调用、来源结束或出错. 返回前清理所有部件.
func (m *M) Run() (err error) {
	m.Lock()
	if m.running {
		m.Unlock()
		return utils.ErrInErr{ErrDesc: "machine already running"}
	}
	m.running = true
	m.startTime = time.Now()
	m.Unlock()

	defer func() {
		m.Lock()
		m.running = false
		m.Unlock()
	}()

	utils.Info("Starting...")

	pool := m.DNS.Pool()
	if n, e := pool.LoadFile(m.conf.DNSDB); e != nil {
		if ce := utils.CanLogWarn("load dns db failed"); ce != nil {
			ce.Write(zap.String("file", m.conf.DNSDB), zap.Error(e))
		}
	} else if ce := utils.CanLogInfo("dns db loaded"); ce != nil {
		ce.Write(zap.String("file", m.conf.DNSDB), zap.Int("records", n))
	}

	if err = m.DNS.Start(); err != nil {
		return utils.ErrInErr{ErrDesc: "start dns server failed", ErrDetail: err, Data: m.conf.DNSListen}
	}
	defer m.DNS.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Maintain(ctx, m.conf.DNSDB, m.SaveInterval)
	}()

	if m.conf.SetupResolv {
		ds, e := sysconfig.NewDNSSetup(m.localDNSIP())
		if e != nil {
			return e
		}
		defer ds.Close()
	}
	if m.conf.GatewayMode {
		ipf, e := sysconfig.NewIPForward()
		if e != nil {
			return e
		}
		defer ipf.Close()
	}

	source, err := m.listenSource()
	if err != nil {
		return err
	}
	defer source.Close()

	if sender, ok := source.(tun.Sender); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender.SendLoop(ctx)
		}()
	}

	if m.conf.Source.AutoIPTables && m.NewSource == nil {
		_, portStr, _ := net.SplitHostPort(m.conf.Source.Listen)
		port, _ := strconv.Atoi(portStr)
		if err = tproxy.SetIPTables(port, m.uid); err != nil {
			return utils.ErrInErr{ErrDesc: "set iptables failed", ErrDetail: err}
		}
		defer tproxy.CleanupIPTables()
	}

	if m.conf.Api.Enable {
		if err = m.startApiServer(); err != nil {
			return err
		}
		defer m.stopApiServer()
	}

	d := &seeker.Dispatcher{
		Source:   source,
		Resolver: m.DNS,
		Client:   m.Client,
		Term:     m.Term,
	}

	m.Lock()
	m.source = source
	m.dispatcher = d
	m.Unlock()

	return d.Run()
}

// PrintAllState 输出 运行状态.
func (m *M) PrintAllState(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	m.RLock()
	defer m.RUnlock()

	fmt.Fprintln(w, "running", m.running)
	if m.running {
		fmt.Fprintln(w, "uptime", time.Since(m.startTime).Round(time.Second))
	}
	fmt.Fprintln(w, "stopRequested", m.Term.IsStopRequested())

	if d := m.dispatcher; d != nil {
		s := d.Stats()
		fmt.Fprintln(w, "acceptedFlows", s.Accepted)
		fmt.Fprintln(w, "activeFlows", s.Active)
		fmt.Fprintln(w, "failedFlows", s.Failed)
	}

	if a := m.DNS.Addr(); a != nil {
		fmt.Fprintln(w, "dnsServer", a.String())
	}
	fmt.Fprintln(w, "fakeIPRange", m.DNS.Pool().Prefix().String())
	fmt.Fprintln(w, "fakeIPCount", m.DNS.Pool().Len())

	if tm, ok := m.source.(*tproxy.Machine); ok && tm != nil {
		sent, dropped, failed := tm.ReplyStats()
		fmt.Fprintln(w, "tproxy", tm.Addr.String())
		fmt.Fprintln(w, "udpSessions", tm.SessionCount())
		fmt.Fprintln(w, "udpReplies", sent, "dropped", dropped, "failed", failed)
	}

	tags := make([]string, 0, len(m.Client.Clients))
	for tag := range m.Client.Clients {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintln(w, "outClient", tag, m.Client.Clients[tag].Name())
	}
	fmt.Fprintln(w, "defaultTag", m.Client.DefaultTag)
}
