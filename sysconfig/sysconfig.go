// Package sysconfig 修改 系统的 dns 与 ip转发 配置, 并在 Close 时恢复.
package sysconfig

import (
	"bytes"
	"os"

	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
)

const (
	ResolvConfPath = "/etc/resolv.conf"
	IPForwardPath  = "/proc/sys/net/ipv4/ip_forward"
)

// fileSwap 写入新内容 并记住原内容.
type fileSwap struct {
	path   string
	old    []byte
	perm   os.FileMode
	closed bool
}

func swapFile(path string, content []byte) (*fileSwap, error) {
	perm := os.FileMode(0644)
	if st, err := os.Stat(path); err == nil {
		perm = st.Mode().Perm()
	}
	old, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "sysconfig read failed", ErrDetail: err, Data: path}
	}
	if err = os.WriteFile(path, content, perm); err != nil {
		return nil, utils.ErrInErr{ErrDesc: "sysconfig write failed", ErrDetail: err, Data: path}
	}
	return &fileSwap{path: path, old: old, perm: perm}, nil
}

// Close 恢复原内容, 可多次调用.
func (fs *fileSwap) Close() error {
	if fs == nil || fs.closed {
		return nil
	}
	fs.closed = true
	if err := os.WriteFile(fs.path, fs.old, fs.perm); err != nil {
		if ce := utils.CanLogErr("sysconfig restore failed"); ce != nil {
			ce.Write(zap.String("path", fs.path), zap.Error(err))
		}
		return err
	}
	return nil
}

// ParseNameservers 从 resolv.conf 的内容中 取出 nameserver
func ParseNameservers(bs []byte) (result []string) {
	pf := []byte("nameserver ")
	lines := bytes.Split(bs, []byte("\n"))
	for _, l := range lines {
		l = bytes.TrimSpace(l)
		if !bytes.HasPrefix(l, pf) {
			continue
		}
		result = append(result, string(bytes.TrimSpace(bytes.TrimPrefix(l, pf))))
	}
	return
}

// DNSSetup 把系统dns 指向我们的 dns服务器.
type DNSSetup struct {
	fileSwap
}

func newDNSSetup(path, dnsIP string) (*DNSSetup, error) {
	fs, err := swapFile(path, []byte("nameserver "+dnsIP+"\n"))
	if err != nil {
		return nil, err
	}
	if ce := utils.CanLogInfo("system dns replaced"); ce != nil {
		ce.Write(zap.String("dns", dnsIP), zap.Strings("old", ParseNameservers(fs.old)))
	}
	return &DNSSetup{*fs}, nil
}

// IPForward 打开 ipv4 转发, 用于 网关模式.
type IPForward struct {
	fileSwap
}

func newIPForward(path string) (*IPForward, error) {
	fs, err := swapFile(path, []byte("1\n"))
	if err != nil {
		return nil, err
	}
	utils.Info("ip forward enabled")
	return &IPForward{*fs}, nil
}
