package tproxy

import (
	"sync"

	"github.com/e1732a364fed/seeker/utils"
)

var (
	iptablesMu  sync.Mutex
	lastCleanup []string
)

// SetIPTables 设置 把流量导向 port 的 策略路由与 iptables 规则.
// uid >= 0 时 本机发出的流量 只导向 该用户的. 需要 root 权限.
//
// 中途出错时 会把已经执行的部分清理掉.
func SetIPTables(port, uid int) error {
	if err := utils.LogRunCmd("iptables", "-V"); err != nil {
		return utils.ErrInErr{ErrDesc: "iptables not available", ErrDetail: err}
	}

	setup, cleanup := iptablesRules(port, uid)

	iptablesMu.Lock()
	defer iptablesMu.Unlock()

	if lastCleanup != nil {
		utils.RunCmdListIgnoreErr(lastCleanup)
	}
	lastCleanup = cleanup

	if err := utils.ExecCmdList(setup); err != nil {
		utils.RunCmdListIgnoreErr(cleanup)
		lastCleanup = nil
		return err
	}
	return nil
}

// CleanupIPTables 清除上一次 SetIPTables 设置的规则. 没有设置过时 什么也不做.
func CleanupIPTables() {
	iptablesMu.Lock()
	defer iptablesMu.Unlock()

	if lastCleanup != nil {
		utils.RunCmdListIgnoreErr(lastCleanup)
		lastCleanup = nil
	}
}
