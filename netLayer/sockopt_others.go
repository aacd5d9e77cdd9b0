//go:build !linux

package netLayer

// 只有 linux 有 SO_MARK
func setSomark(fd int, somark int) {}
