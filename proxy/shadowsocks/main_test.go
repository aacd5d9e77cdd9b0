package shadowsocks

import (
	"os"
	"testing"
)

// 测试中 客户端和服务端 在同一进程, 共用 go-shadowsocks2 的全局 salt 过滤器,
// 服务端会把 客户端刚用过的 salt 当作重放. 过滤器第一次使用时 才读取环境变量.
func TestMain(m *testing.M) {
	os.Setenv("SHADOWSOCKS_SF_CAPACITY", "0")
	os.Exit(m.Run())
}
