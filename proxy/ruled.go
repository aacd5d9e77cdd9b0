package proxy

import (
	"net"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
)

// RuledClient 按路由规则 为每条流选择一个 Client. 不匹配任何规则的流 使用 DefaultTag 对应的 Client.
type RuledClient struct {
	Policy     *netLayer.RoutePolicy
	Clients    map[string]Client
	DefaultTag string
}

// NewRuledClient 按 dials 创建所有出口. 总会有 direct 和 reject 两个tag, 除非被配置覆盖.
// defaultTag 为空时, 有且只有一个外部出口时用它, 否则为 direct.
func NewRuledClient(dials []*DialConf, rules []*netLayer.RuleConf, defaultTag string) (*RuledClient, error) {
	rc := &RuledClient{
		Policy: netLayer.NewRoutePolicy(),
		Clients: map[string]Client{
			DirectName: NewDirectClient(),
			RejectName: RejectClient{},
		},
		DefaultTag: defaultTag,
	}

	var lastTag string
	for _, dc := range dials {
		c, err := NewClient(dc)
		if err != nil {
			return nil, err
		}
		tag := dc.Tag
		if tag == "" {
			tag = c.Name()
		}
		rc.Clients[tag] = c
		lastTag = tag
	}

	if rc.DefaultTag == "" {
		if len(dials) == 1 {
			rc.DefaultTag = lastTag
		} else {
			rc.DefaultTag = DirectName
		}
	}
	if _, ok := rc.Clients[rc.DefaultTag]; !ok {
		return nil, utils.ErrInErr{ErrDesc: "default dial tag not found", ErrDetail: utils.ErrWrongParameter, Data: rc.DefaultTag}
	}

	netLayer.LoadRulesForRoutePolicy(rules, rc.Policy)
	for _, rs := range rc.Policy.List {
		if _, ok := rc.Clients[rs.OutTag]; !ok {
			return nil, utils.ErrInErr{ErrDesc: "route toTag not found", ErrDetail: utils.ErrWrongParameter, Data: rs.OutTag}
		}
	}
	return rc, nil
}

func (*RuledClient) Name() string { return "ruled" }

// Pick 返回 target 对应的 tag 和 Client
func (rc *RuledClient) Pick(target netLayer.Addr) (string, Client) {
	tag := rc.Policy.CalcuOutTag(target)
	if c, ok := rc.Clients[tag]; ok {
		return tag, c
	}
	return rc.DefaultTag, rc.Clients[rc.DefaultTag]
}

func (rc *RuledClient) HandleTCP(conn net.Conn, target netLayer.Addr) error {
	target.Network = "tcp"
	tag, c := rc.Pick(target)

	if ce := utils.CanLogInfo("tcp flow"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.String("via", tag))
	}
	return c.HandleTCP(conn, target)
}

func (rc *RuledClient) HandleUDP(conn netLayer.MsgConn, target netLayer.Addr) error {
	target.Network = "udp"
	tag, c := rc.Pick(target)

	if ce := utils.CanLogInfo("udp flow"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.String("via", tag))
	}
	return c.HandleUDP(conn, target)
}

// Route 返回 域名按规则 应走的 tag, 用于决定 dns 是否需要拦截.
func (rc *RuledClient) Route(domain string, network string) string {
	tag, _ := rc.Pick(netLayer.Addr{Name: domain, Network: network})
	return tag
}
