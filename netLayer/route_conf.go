package netLayer

import (
	"net"
	"net/netip"
	"regexp"
	"strings"

	"github.com/biter777/countries"
	"github.com/e1732a364fed/seeker/utils"
	"github.com/yl2chen/cidranger"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// RuleConf 是 [[route]] 的配置.
//
// domain 的写法:
//
//	"full:a.com" 完整匹配, "domain:a.com" 匹配a.com及其子域名, "regexp:..." 正则,
//	不带前缀的 直接作为子字符串匹配.
type RuleConf struct {
	DialTag string `toml:"toTag"`

	Countries []string `toml:"country"`
	IPs       []string `toml:"ip"`
	Domains   []string `toml:"domain"`
	Network   []string `toml:"network"`
}

var knownNetworks = []string{"tcp", "udp"}

func LoadRulesForRoutePolicy(rules []*RuleConf, policy *RoutePolicy) {
	for _, rc := range rules {
		policy.AddRouteSet(LoadRuleForRouteSet(rc))
	}
}

func LoadRuleForRouteSet(rule *RuleConf) (rs *RouteSet) {
	rs = NewFullRouteSet()
	rs.OutTag = rule.DialTag

	for _, c := range rule.Countries {
		c = strings.ToUpper(c)
		if countries.ByName(c) == countries.Unknown {
			if ce := utils.CanLogWarn("LoadRuleForRouteSet, unknown country code"); ce != nil {
				ce.Write(zap.String("country", c))
			}
			continue
		}
		rs.Countries[c] = true
	}

	for _, d := range rule.Domains {
		colonIdx := strings.Index(d, ":")
		if colonIdx < 0 {
			rs.Match = append(rs.Match, strings.ToLower(d))
			continue
		}

		switch strings.ToLower(d[:colonIdx]) {
		case "full":
			rs.Full[strings.ToLower(d[colonIdx+1:])] = true
		case "domain":
			rs.Domains[strings.ToLower(d[colonIdx+1:])] = true
		case "regexp":
			reg, err := regexp.Compile(d[colonIdx+1:])
			if err == nil {
				rs.Regex = append(rs.Regex, reg)
			} else {
				if ce := utils.CanLogErr("LoadRuleForRouteSet, regex illegal"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
		default:
			if ce := utils.CanLogErr("LoadRuleForRouteSet, not supported"); ce != nil {
				ce.Write(zap.String("item", d))
			}
		}
	}

	//ip 过滤 需要 分辨 cidr 和普通ip
	for _, ipStr := range rule.IPs {
		if strings.Contains(ipStr, "/") {
			if _, ipnet, err := net.ParseCIDR(ipStr); err == nil {
				rs.NetRanger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
			} else {
				if ce := utils.CanLogErr("LoadRuleForRouteSet, parse cidr failed"); ce != nil {
					ce.Write(zap.String("cidr", ipStr), zap.Error(err))
				}
			}
			continue
		}

		na, e := netip.ParseAddr(ipStr)
		if e == nil {
			rs.IPs[na.Unmap()] = true
		} else {
			if ce := utils.CanLogErr("LoadRuleForRouteSet, parse ip failed"); ce != nil {
				ce.Write(zap.String("ipStr", ipStr), zap.Error(e))
			}
		}
	}

	for _, ns := range rule.Network {
		ns = strings.ToLower(ns)
		if !slices.Contains(knownNetworks, ns) {
			if ce := utils.CanLogWarn("LoadRuleForRouteSet, unknown network"); ce != nil {
				ce.Write(zap.String("network", ns))
			}
			continue
		}
		rs.AllowedTransportLayerProtocols |= StrToTransportProtocol(ns)
	}

	return rs
}
