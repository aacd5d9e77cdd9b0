package netLayer

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/yl2chen/cidranger"
)

// 用于 HasFullOrSubDomain函数
type DomainHaser interface {
	HasDomain(string) bool
}

type MapDomainHaser map[string]bool

func (mdh MapDomainHaser) HasDomain(d string) bool {
	_, found := mdh[d]
	return found
}

// 会以点号分裂domain判断每一个后缀是否被包含，最终会试图匹配整个字符串.
func HasFullOrSubDomain(domain string, ds DomainHaser) bool {
	lastDotIndex := len(domain)

	for {
		lastDotIndex = strings.LastIndex(domain[:lastDotIndex], ".")

		if ds.HasDomain(domain[lastDotIndex+1:]) {
			return true
		}
		if lastDotIndex == -1 {
			return false
		}
	}
}

// RouteSet 是一组同属一个路由方向的 “网络层/传输层 特征”,
// 任意一个特征匹配后，都将发往 OutTag 指定的出口.
type RouteSet struct {
	//网络层
	NetRanger cidranger.Ranger    //一个范围
	IPs       map[netip.Addr]bool //一个确定值

	//Domains匹配子域名，当此域名是目标域名或其子域名时，该规则生效.
	Domains map[string]bool

	//Full只匹配完整域名;
	Full map[string]bool

	//Countries 使用 ISO 3166 字符串 作为key.
	Countries map[string]bool

	//Regex是正则匹配域名.
	Regex []*regexp.Regexp

	//Match 匹配任意子字符串
	Match []string

	//传输层
	AllowedTransportLayerProtocols uint16

	OutTag string
}

func NewFullRouteSet() *RouteSet {
	return &RouteSet{
		NetRanger: cidranger.NewPCTrieRanger(),
		IPs:       make(map[netip.Addr]bool),
		Domains:   make(map[string]bool),
		Full:      make(map[string]bool),
		Countries: make(map[string]bool),
	}
}

func (rs *RouteSet) IsTransportProtocolAllowed(p uint16) bool {
	if rs.AllowedTransportLayerProtocols == 0 {
		return true //默认即支持tcp和udp
	}
	return rs.AllowedTransportLayerProtocols&p > 0
}

func (rs *RouteSet) IsAddrNetworkAllowed(a Addr) bool {
	if a.Network == "" {
		return rs.IsTransportProtocolAllowed(TCP)
	}
	p := StrToTransportProtocol(a.Network)
	if p == UnknownNetwork {
		return true
	}
	return rs.IsTransportProtocolAllowed(p)
}

func (rs *RouteSet) IsNoLimitForNetworkLayer() bool {
	return (rs.NetRanger == nil || rs.NetRanger.Len() == 0) && len(rs.IPs) == 0 && len(rs.Match) == 0 && len(rs.Domains) == 0 && len(rs.Full) == 0 && len(rs.Countries) == 0 && len(rs.Regex) == 0
}

func (rs *RouteSet) IsAddrIn(a Addr) bool {
	//先过滤传输层，再过滤网络层, 因为传输层过滤非常简单。
	if !rs.IsAddrNetworkAllowed(a) {
		return false
	}

	if rs.IsNoLimitForNetworkLayer() {
		return true
	}

	if len(a.IP) > 0 {
		if ip4 := a.IP.To4(); ip4 != nil { //ipv6形式的ipv4会干扰过滤
			a.IP = ip4
		}

		if rs.NetRanger != nil && rs.NetRanger.Len() > 0 {
			if has, _ := rs.NetRanger.Contains(a.IP); has {
				return true
			}
		}
		if len(rs.Countries) > 0 {
			if isoStr := GetIP_ISO(a.IP); isoStr != "" && rs.Countries[isoStr] {
				return true
			}
		}
		if len(rs.IPs) > 0 && rs.IPs[a.GetNetIPAddr()] {
			return true
		}
	}

	if a.Name != "" {
		if rs.Full[a.Name] {
			return true
		}

		if len(rs.Domains) > 0 && HasFullOrSubDomain(a.Name, MapDomainHaser(rs.Domains)) {
			return true
		}

		for _, m := range rs.Match {
			if strings.Contains(a.Name, m) {
				return true
			}
		}

		for _, reg := range rs.Regex {
			if reg.MatchString(a.Name) {
				return true
			}
		}
	}
	return false
}

// 一个完整的 所有RouteSet的列表，进行路由时，直接遍历即可。
type RoutePolicy struct {
	List []*RouteSet
}

func NewRoutePolicy() *RoutePolicy {
	return &RoutePolicy{
		List: make([]*RouteSet, 0, 2),
	}
}

func (rp *RoutePolicy) AddRouteSet(rs *RouteSet) {
	if rs != nil {
		rp.List = append(rp.List, rs)
	}
}

// CalcuOutTag 返回第一个匹配 a 的 RouteSet 的 OutTag; 均不匹配时返回 "".
func (rp *RoutePolicy) CalcuOutTag(a Addr) string {
	if rp == nil {
		return ""
	}
	for _, rs := range rp.List {
		if rs.IsAddrIn(a) {
			return rs.OutTag
		}
	}
	return ""
}
