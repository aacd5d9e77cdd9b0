// Package fakedns 实现 dns 拦截: 为被拦截的域名分配 假ip, 并能从 ip 反查域名.
package fakedns

import (
	"container/list"
	"encoding/binary"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrPoolExhausted = errors.New("fake ip pool exhausted")

type entry struct {
	domain string
	ip     netip.Addr
	elem   *list.Element
}

type realEntry struct {
	domain  string
	expires time.Time
}

// Pool 从 start 开始 依次分配 prefix 内的 假ip, 每个域名一个.
// 地址用完后 复用 最久没被用到的 那个.
//
// 另外它还记录 上游dns 返回的 真实ip 到域名的对应 (带过期时间), 这样 发往真实ip的流 也能反查到域名.
type Pool struct {
	mu sync.RWMutex

	byIP     map[netip.Addr]*entry
	byDomain map[string]*entry
	lru      *list.List //Front 为最近使用

	reals map[netip.Addr]realEntry

	prefix netip.Prefix
	start  netip.Addr
	size   uint32
	next   uint32

	dirty atomic.Bool
}

func ipAdd(base netip.Addr, n uint32) netip.Addr {
	b := base.As4()
	v := binary.BigEndian.Uint32(b[:]) + n
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

func ipSub(a, b netip.Addr) uint32 {
	a4, b4 := a.As4(), b.As4()
	return binary.BigEndian.Uint32(a4[:]) - binary.BigEndian.Uint32(b4[:])
}

// NewPool start 须在 prefix 内, 且只支持 ipv4. 地址范围为 [start, prefix的广播地址).
func NewPool(start netip.Addr, prefix netip.Prefix) (*Pool, error) {
	start = start.Unmap()
	prefix = prefix.Masked()

	if !start.Is4() || !prefix.Addr().Is4() {
		return nil, utils.ErrInErr{ErrDesc: "fake ip pool only supports ipv4", ErrDetail: utils.ErrWrongParameter, Data: prefix.String()}
	}
	if !prefix.Contains(start) {
		return nil, utils.ErrInErr{ErrDesc: "dns start ip not in fake cidr", ErrDetail: utils.ErrWrongParameter, Data: start.String() + " " + prefix.String()}
	}

	total := uint64(1) << (32 - prefix.Bits())
	used := uint64(ipSub(start, prefix.Addr()))
	if total < used+2 {
		return nil, utils.ErrInErr{ErrDesc: "fake cidr too small", ErrDetail: utils.ErrWrongParameter, Data: prefix.String()}
	}
	size := total - used - 1 //去掉广播地址
	if size > 1<<31 {
		size = 1 << 31
	}

	return &Pool{
		byIP:     make(map[netip.Addr]*entry),
		byDomain: make(map[string]*entry),
		lru:      list.New(),
		reals:    make(map[netip.Addr]realEntry),
		prefix:   prefix,
		start:    start,
		size:     uint32(size),
	}, nil
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSuffix(d, "."))
}

func (p *Pool) Prefix() netip.Prefix {
	return p.prefix
}

// IsFake 不加锁, 只做范围判断
func (p *Pool) IsFake(ip netip.Addr) bool {
	return p.prefix.Contains(ip.Unmap())
}

// Allocate 返回 domain 的 假ip, 没有则分配一个.
func (p *Pool) Allocate(domain string) (netip.Addr, error) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return netip.Addr{}, utils.ErrNilParameter
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.byDomain[domain]; ok {
		p.lru.MoveToFront(e.elem)
		return e.ip, nil
	}

	ip, err := p.allocateIP()
	if err != nil {
		return ip, err
	}
	p.insert(domain, ip)
	return ip, nil
}

// must be called with mu held.
func (p *Pool) insert(domain string, ip netip.Addr) {
	e := &entry{domain: domain, ip: ip}
	e.elem = p.lru.PushFront(e)
	p.byIP[ip] = e
	p.byDomain[domain] = e
	p.dirty.Store(true)
}

// must be called with mu held.
func (p *Pool) allocateIP() (netip.Addr, error) {
	if uint32(len(p.byIP)) < p.size {
		for i := uint32(0); i < p.size; i++ {
			ip := ipAdd(p.start, p.next)
			p.next = (p.next + 1) % p.size
			if _, used := p.byIP[ip]; !used {
				return ip, nil
			}
		}
	}

	back := p.lru.Back()
	if back == nil {
		return netip.Addr{}, ErrPoolExhausted
	}
	old := back.Value.(*entry)
	p.lru.Remove(back)
	delete(p.byIP, old.ip)
	delete(p.byDomain, old.domain)

	if ce := utils.CanLogDebug("fake ip reused"); ce != nil {
		ce.Write(zap.String("ip", old.ip.String()), zap.String("old", old.domain))
	}
	return old.ip, nil
}

// Lookup 返回 已分配给 domain 的 假ip
func (p *Pool) Lookup(domain string) (netip.Addr, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byDomain[normalizeDomain(domain)]
	if !ok {
		return netip.Addr{}, false
	}
	return e.ip, true
}

// LookupAddr 先查 假ip, 再查 真实ip 记录.
func (p *Pool) LookupAddr(ip netip.Addr) (string, bool) {
	ip = ip.Unmap()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if e, ok := p.byIP[ip]; ok {
		return e.domain, true
	}
	if r, ok := p.reals[ip]; ok && time.Now().Before(r.expires) {
		return r.domain, true
	}
	return "", false
}

// LookupHost 实现 seeker.Resolver. ip 为 ip 字符串, 无法解析时返回 false.
func (p *Pool) LookupHost(ip string) (string, bool) {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return "", false
	}
	return p.LookupAddr(a)
}

// Remember 记录 上游返回的 真实ip 对应的域名, ttl 之后失效.
func (p *Pool) Remember(domain string, ip netip.Addr, ttl time.Duration) {
	ip = ip.Unmap()
	if p.IsFake(ip) {
		return
	}
	p.mu.Lock()
	p.reals[ip] = realEntry{domain: normalizeDomain(domain), expires: time.Now().Add(ttl)}
	p.mu.Unlock()
}

// Cleanup 删除过期的 真实ip 记录, 返回删除的数量.
func (p *Pool) Cleanup(now time.Time) (n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ip, r := range p.reals {
		if !now.Before(r.expires) {
			delete(p.reals, ip)
			n++
		}
	}
	return
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byIP)
}

// Record 是一条 域名 到 假ip 的对应
type Record struct {
	Domain string `toml:"domain"`
	IP     string `toml:"ip"`
}

// Records 按 最久未使用 到 最近使用 的顺序返回所有 假ip 记录, 恢复时保持 lru 顺序.
func (p *Pool) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rs := make([]Record, 0, p.lru.Len())
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		rs = append(rs, Record{Domain: e.domain, IP: e.ip.String()})
	}
	return rs
}

// Restore 载入记录; 不在本 Pool 范围内 或 冲突的记录会被跳过. 返回载入的数量.
func (p *Pool) Restore(rs []Record) (n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range rs {
		ip, err := netip.ParseAddr(r.IP)
		if err != nil {
			continue
		}
		ip = ip.Unmap()
		domain := normalizeDomain(r.Domain)
		if domain == "" || !ip.Is4() || ip.Less(p.start) || ipSub(ip, p.start) >= p.size {
			continue
		}
		if _, ok := p.byIP[ip]; ok {
			continue
		}
		if _, ok := p.byDomain[domain]; ok {
			continue
		}
		p.insert(domain, ip)
		if off := ipSub(ip, p.start) + 1; off > p.next {
			p.next = off % p.size
		}
		n++
	}
	return
}
