//go:build !linux

package tproxy

import (
	"context"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/netLayer/tun"
	"github.com/e1732a364fed/seeker/utils"
)

// Machine 在非linux系统上 不可用.
type Machine struct {
	netLayer.Addr
}

// Listen placeholder for non-linux systems, return utils.ErrNotImplemented
func Listen(addr string, backlog int) (*Machine, error) {
	return nil, utils.ErrNotImplemented
}

func (m *Machine) Next(ctx context.Context) (tun.Socket, error) {
	return tun.Socket{}, utils.ErrNotImplemented
}

func (m *Machine) SendLoop(ctx context.Context) error {
	return utils.ErrNotImplemented
}

func (m *Machine) SessionCount() int { return 0 }

func (m *Machine) ReplyStats() (sent, dropped, failed uint64) { return }

func (m *Machine) Close() error { return nil }

// SetIPTables placeholder for non-linux systems, return utils.ErrNotImplemented
func SetIPTables(port, uid int) error {
	return utils.ErrNotImplemented
}

// CleanupIPTables placeholder for non-linux systems
func CleanupIPTables() {
}
