package netLayer

import (
	"sync"

	"github.com/e1732a364fed/seeker/utils"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var somarkFailOnce sync.Once

func setSomark(fd int, somark int) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, somark); err != nil {
		somarkFailOnce.Do(func() {
			if ce := utils.CanLogErr("setSomark failed, outbound traffic may loop back when iptables is set"); ce != nil {
				ce.Write(zap.Error(err))
			}
		})
	}
}

// GetSomark 读出 fd 的 SO_MARK
func GetSomark(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK)
}
