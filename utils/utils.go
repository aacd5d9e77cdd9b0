package utils

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
)

// flag包没法一下子获取所有的已经配置的参数, 只能遍历;
// 需要大量判断是否给出过的参数时, 先提取到map里.
func GetGivenFlags() (m map[string]*flag.Flag) {
	m = make(map[string]*flag.Flag)
	flag.Visit(func(f *flag.Flag) {
		m[f.Name] = f
	})
	return
}

var GivenFlags map[string]*flag.Flag

// call flag.Parse() and assign given flags to GivenFlags.
func ParseFlags() {
	flag.Parse()
	GivenFlags = GetGivenFlags()
}

// 移除 = "" 和 = false 和 = 0 的项
func GetPurgedTomlStr(v any) (string, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	if err := toml.NewEncoder(buf).Encode(v); err != nil {
		return "", err
	}
	lines := strings.Split(buf.String(), "\n")
	var sb strings.Builder

	for _, l := range lines {
		if strings.HasSuffix(l, ` = ""`) || strings.HasSuffix(l, ` = false`) || strings.HasSuffix(l, ` = 0`) {
			continue
		}
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

// GetSystemKillChan 返回一个接收 SIGINT 和 SIGTERM 的 chan.
// 缓冲为1, 连续的多个信号也不会阻塞 signal 包.
func GetSystemKillChan() <-chan os.Signal {
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM) //os.Kill cannot be trapped
	return osSignals
}
