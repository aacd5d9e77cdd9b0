// Package utils provides utilities that are used in all sub-packages of seeker.
package utils

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Log_debug = iota
	Log_info
	Log_warning
	Log_error //error一般用于输出单条流的错误, 不致命
	Log_fatal

	DefaultLL = Log_info
)

// LogLevel 值越小越唠叨, 见 Log_ 开头的常量; 我们的 LogLevel 就是 zap 的 level+1 .
var (
	LogLevel       int = DefaultLL
	LogOutFileName string

	// 未调用 InitLog 前为 nop logger, 这样各个包在测试中也能直接使用.
	ZapLogger = zap.NewNop()
)

// 日志文件轮转的参数, 单位见 lumberjack.Logger
var (
	LogMaxSizeMB  = 20
	LogMaxBackups = 3
	LogMaxAgeDays = 28
)

func logEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		FunctionKey: "func",
		EncodeLevel: zapcore.CapitalColorLevelEncoder,
		EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeName:  zapcore.FullNameEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
	}
}

// InitLog 按 LogLevel 和 LogOutFileName 初始化 ZapLogger, 并打印 firstMsg.
// 给出了 LogOutFileName 时, 日志同时写入 stdout 和 可轮转的日志文件.
func InitLog(firstMsg string) {
	atomicLevel := zap.NewAtomicLevel()
	atomicLevel.SetLevel(zapcore.Level(LogLevel - 1))

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(logEncoderConfig()), zapcore.AddSync(os.Stdout), atomicLevel)

	if LogOutFileName == "" {
		ZapLogger = zap.New(consoleCore)
	} else {
		fileConf := logEncoderConfig()
		fileConf.EncodeLevel = zapcore.CapitalLevelEncoder //文件里不要颜色转义码

		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(fileConf), zapcore.AddSync(&lumberjack.Logger{
			Filename:   LogOutFileName,
			MaxSize:    LogMaxSizeMB,
			MaxBackups: LogMaxBackups,
			MaxAge:     LogMaxAgeDays,
		}), atomicLevel)

		ZapLogger = zap.New(zapcore.NewTee(consoleCore, fileCore))
	}

	if firstMsg != "" {
		ZapLogger.Warn(firstMsg)
	}
}

func canLogLevel(l zapcore.Level, msg string) *zapcore.CheckedEntry {
	return ZapLogger.Check(l, msg)
}

func CanLogErr(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.ErrorLevel, msg)
}

func CanLogInfo(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.InfoLevel, msg)
}

func CanLogWarn(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.WarnLevel, msg)
}

func CanLogDebug(msg string) *zapcore.CheckedEntry {
	return canLogLevel(zap.DebugLevel, msg)
}

func Debug(msg string) {
	ZapLogger.Debug(msg)
}

func Info(msg string) {
	ZapLogger.Info(msg)
}

func Warn(msg string) {
	ZapLogger.Warn(msg)
}

func Error(msg string) {
	ZapLogger.Error(msg)
}
