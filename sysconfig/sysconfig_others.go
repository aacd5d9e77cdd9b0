//go:build !linux

package sysconfig

import "github.com/e1732a364fed/seeker/utils"

// NewDNSSetup 在非linux系统上 什么也不做.
func NewDNSSetup(dnsIP string) (*DNSSetup, error) {
	utils.Warn("setting system dns is only supported on linux, ignored")
	return &DNSSetup{fileSwap{closed: true}}, nil
}

// NewIPForward 在非linux系统上 什么也不做.
func NewIPForward() (*IPForward, error) {
	utils.Warn("ip forward is only supported on linux, ignored")
	return &IPForward{fileSwap{closed: true}}, nil
}
