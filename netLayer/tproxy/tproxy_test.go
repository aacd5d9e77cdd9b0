package tproxy

import (
	"strings"
	"testing"
)

func TestIPTablesRules(t *testing.T) {
	setup, cleanup := iptablesRules(DefaultPort, -1)

	if len(setup) == 0 || len(cleanup) == 0 {
		t.FailNow()
	}
	if setup[0] != "ip rule add fwmark 1 table 100" || cleanup[0] != "ip rule del fwmark 1 table 100" {
		t.Log(setup[0], cleanup[0])
		t.FailNow()
	}

	var tproxyLines int
	for _, s := range setup {
		if strings.Contains(s, "--uid-owner") {
			t.Log("no uid given, but got", s)
			t.FailNow()
		}
		if strings.Contains(s, "--on-port 12345") {
			tproxyLines++
		}
	}
	if tproxyLines != 2 {
		t.Log(tproxyLines)
		t.FailNow()
	}

	//本程序的出站socket 的标记 被放行, 且在 打标记之前
	markReturn, markSet := -1, -1
	for i, s := range setup {
		if strings.HasSuffix(s, "-j RETURN -m mark --mark 0xff") && strings.Contains(s, maskChainName) {
			markReturn = i
		}
		if markSet < 0 && strings.Contains(s, "--set-mark 1") {
			markSet = i
		}
	}
	if markReturn < 0 || markSet < markReturn {
		t.Log(markReturn, markSet)
		t.FailNow()
	}

	//清理时 自定义链 最后被删
	if last := cleanup[len(cleanup)-1]; last != "iptables -t mangle -X "+maskChainName {
		t.Log(last)
		t.FailNow()
	}
}

func TestIPTablesRulesWithUid(t *testing.T) {
	setup, _ := iptablesRules(7890, 1000)

	var owned int
	for _, s := range setup {
		if strings.Contains(s, "-m owner --uid-owner 1000") {
			owned++
			if !strings.Contains(s, maskChainName) {
				t.Log("uid filter must only be on the OUTPUT mark chain", s)
				t.FailNow()
			}
		}
	}
	if owned != 2 {
		t.Log(owned)
		t.FailNow()
	}
}
