package utils

import (
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ExecCmd 按空格切分 cmdStr 并执行, 参数中不能含有空格.
func ExecCmd(cmdStr string) (err error) {
	strs := strings.Fields(cmdStr)
	if len(strs) == 0 {
		return ErrNilParameter
	}
	return LogRunCmd(strs[0], strs[1:]...)
}

func LogRunCmd(name string, args ...string) (err error) {
	if ce := CanLogInfo("run cmd"); ce != nil {
		ce.Write(zap.String("cmd", name+" "+strings.Join(args, " ")))
	}

	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		if ce := CanLogErr("run cmd failed"); ce != nil {
			ce.Write(zap.Error(err), zap.ByteString("output", out))
		}
	}
	return
}

// ExecCmdList 依次执行, 遇到错误立即返回
func ExecCmdList(strs []string) (err error) {
	for _, str := range strs {
		if strings.TrimSpace(str) == "" {
			continue
		}
		if err = ExecCmd(str); err != nil {
			return
		}
	}
	return
}

// RunCmdListIgnoreErr 依次执行, 出错继续; 用于清理类的命令.
func RunCmdListIgnoreErr(strs []string) {
	for _, str := range strs {
		if strings.TrimSpace(str) == "" {
			continue
		}
		ExecCmd(str)
	}
}
