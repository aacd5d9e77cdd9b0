package fakedns

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/utils"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const (
	DefaultTTL     = 10
	DefaultTimeout = 5 * time.Second
)

type Conf struct {
	Listen   string //如 127.0.0.1:53, 同时监听 udp 和 tcp
	Upstream string //如 223.5.5.5:53, 不被拦截的查询发往这里
	TTL      uint32 //假ip应答的 ttl, 秒
	Timeout  time.Duration

	Hosts map[string]netip.Addr //静态应答

	// Bypass 返回 true 的域名 不分配假ip, 查询直接转发给上游
	Bypass func(domain string) bool
}

// Server 是拦截 dns 查询的服务器. A 查询返回 假ip, AAAA 查询返回空应答 (让客户端使用ipv4),
// 其它类型 以及 Bypass 的域名 转发给上游.
type Server struct {
	conf      Conf
	pool      *Pool
	client    *dns.Client
	tcpClient *dns.Client

	mu   sync.Mutex
	udp  *dns.Server
	tcp  *dns.Server
	addr net.Addr
}

func NewServer(pool *Pool, conf Conf) *Server {
	if conf.TTL == 0 {
		conf.TTL = DefaultTTL
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	hosts := make(map[string]netip.Addr, len(conf.Hosts))
	for k, v := range conf.Hosts {
		hosts[normalizeDomain(k)] = v.Unmap()
	}
	conf.Hosts = hosts

	return &Server{
		conf:      conf,
		pool:      pool,
		client:    newClient("udp", conf.Timeout),
		tcpClient: newClient("tcp", conf.Timeout),
	}
}

// 发往上游的查询 带有 netLayer.DefaultSomark, 不会被 透明代理 拦回来.
func newClient(network string, timeout time.Duration) *dns.Client {
	return &dns.Client{
		Net:     network,
		Timeout: timeout,
		Dialer: &net.Dialer{
			Timeout: timeout,
			Control: netLayer.SomarkControl(netLayer.DefaultSomark),
		},
	}
}

func (s *Server) Pool() *Pool {
	return s.pool
}

// LookupHost 实现 seeker.Resolver
func (s *Server) LookupHost(ip string) (string, bool) {
	return s.pool.LookupHost(ip)
}

func (s *Server) rr(name string, ip netip.Addr, ttl uint32) dns.RR {
	if ip.Is4() {
		return &dns.A{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   ip.AsSlice(),
		}
	}
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
		AAAA: ip.AsSlice(),
	}
}

func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if r == nil {
		return
	}
	if len(r.Question) == 0 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		w.WriteMsg(m)
		return
	}
	q := r.Question[0]
	domain := normalizeDomain(q.Name)

	if ce := utils.CanLogDebug("Dns got"); ce != nil {
		ce.Write(zap.String("name", domain), zap.String("qtype", dns.TypeToString[q.Qtype]))
	}

	if q.Qclass != dns.ClassINET || (q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA) {
		s.forward(w, r, domain)
		return
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	m.RecursionAvailable = true

	if ip, ok := s.conf.Hosts[domain]; ok {
		if (q.Qtype == dns.TypeA) == ip.Is4() {
			m.Answer = append(m.Answer, s.rr(q.Name, ip, s.conf.TTL))
		}
		w.WriteMsg(m)
		return
	}

	if s.conf.Bypass != nil && s.conf.Bypass(domain) {
		s.forward(w, r, domain)
		return
	}

	if q.Qtype == dns.TypeAAAA {
		w.WriteMsg(m)
		return
	}

	ip, err := s.pool.Allocate(domain)
	if err != nil {
		if ce := utils.CanLogErr("fake dns allocate failed"); ce != nil {
			ce.Write(zap.String("name", domain), zap.Error(err))
		}
		m.Rcode = dns.RcodeServerFailure
		w.WriteMsg(m)
		return
	}

	if ce := utils.CanLogDebug("Dns fake ip for"); ce != nil {
		ce.Write(zap.String("name", domain), zap.String("ip", ip.String()))
	}
	m.Answer = append(m.Answer, s.rr(q.Name, ip, s.conf.TTL))
	w.WriteMsg(m)
}

func (s *Server) forward(w dns.ResponseWriter, r *dns.Msg, domain string) {
	if s.conf.Upstream == "" {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		w.WriteMsg(m)
		return
	}

	c := s.client
	if isTCP(w) {
		c = s.tcpClient
	}
	resp, _, err := c.Exchange(r, s.conf.Upstream)
	if err == nil && resp != nil && resp.Truncated && c != s.tcpClient {
		if ce := utils.CanLogDebug("dns answer truncated, retry with tcp"); ce != nil {
			ce.Write(zap.String("name", domain))
		}
		resp, _, err = s.tcpClient.Exchange(r, s.conf.Upstream)
	}
	if err != nil || resp == nil {
		if ce := utils.CanLogWarn("dns forward failed"); ce != nil {
			ce.Write(zap.String("name", domain), zap.String("upstream", s.conf.Upstream), zap.Error(err))
		}
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		w.WriteMsg(m)
		return
	}

	for _, a := range resp.Answer {
		if aa, ok := a.(*dns.A); ok {
			if ip, ok := netip.AddrFromSlice(aa.A); ok {
				ttl := time.Duration(aa.Hdr.Ttl) * time.Second
				if ttl < time.Minute {
					ttl = time.Minute
				}
				s.pool.Remember(domain, ip, ttl)
			}
		}
	}

	resp.Id = r.Id
	w.WriteMsg(resp)
}

func isTCP(w dns.ResponseWriter) bool {
	_, ok := w.LocalAddr().(*net.TCPAddr)
	return ok
}

// Start 同时监听 udp 和 tcp, 监听成功后返回, 服务在后台 goroutine 中运行.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.udp != nil {
		return utils.ErrInErr{ErrDesc: "dns server already started", Data: s.conf.Listen}
	}

	pc, err := net.ListenPacket("udp", s.conf.Listen)
	if err != nil {
		return err
	}
	// 端口为0时, tcp 使用 udp 实际分到的端口
	l, err := net.Listen("tcp", pc.LocalAddr().String())
	if err != nil {
		pc.Close()
		return err
	}

	s.udp = &dns.Server{PacketConn: pc, Handler: s}
	s.tcp = &dns.Server{Listener: l, Handler: s}
	s.addr = pc.LocalAddr()

	for _, srv := range []*dns.Server{s.udp, s.tcp} {
		started := make(chan struct{})
		errCh := make(chan error, 1)
		srv.NotifyStartedFunc = func() { close(started) }

		go func(srv *dns.Server) {
			err := srv.ActivateAndServe()
			if err != nil {
				if ce := utils.CanLogErr("dns server stopped with error"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
			errCh <- err
		}(srv)

		select {
		case <-started:
		case err = <-errCh:
			pc.Close()
			l.Close()
			s.udp, s.tcp = nil, nil
			if err == nil {
				err = utils.ErrInErr{ErrDesc: "dns server exited before start", Data: s.conf.Listen}
			}
			return err
		}
	}

	if ce := utils.CanLogInfo("dns server listening"); ce != nil {
		ce.Write(zap.String("addr", s.addr.String()), zap.String("upstream", s.conf.Upstream))
	}
	return nil
}

// Addr 返回实际监听的地址, 未 Start 时为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.udp == nil {
		return nil
	}
	err := s.udp.Shutdown()
	if e := s.tcp.Shutdown(); err == nil {
		err = e
	}
	s.udp, s.tcp = nil, nil
	return err
}
