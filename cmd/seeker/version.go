/*
Package main 读取配置文件, 启动 假dns 与 透明代理, 把截获的流 按规则 转发出去.

命令行参数请使用 --help / -h 查看详情.
*/
package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/e1732a364fed/seeker/netLayer"
	"github.com/e1732a364fed/seeker/proxy"
)

const (
	desc      = "Transparent proxy with fake dns, routing every intercepted flow by its domain\n"
	delimiter = "===============================\n"
)

var Version string = "[version_undefined]" //版本号可由 -ldflags "-X 'main.Version=v1.x.x'" 指定

func versionStr() string {
	return fmt.Sprintf("seeker %s, %s %s %s, with clients: %v \n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH, proxy.AllClientNames())
}

func printVersion_simple(w io.StringWriter) {
	w.WriteString(versionStr())
}

func printVersion(w io.StringWriter) {
	w.WriteString(delimiter)
	printVersion_simple(w)
	w.WriteString(delimiter)

	w.WriteString(desc)

	if netLayer.HasGeoip() {
		w.WriteString("Geoip file loaded\n")
	}
	w.WriteString(delimiter)
}
