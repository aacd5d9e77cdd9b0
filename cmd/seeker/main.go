package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/e1732a364fed/seeker/config"
	"github.com/e1732a364fed/seeker/machine"
	"github.com/e1732a364fed/seeker/utils"
)

const (
	exitOK = iota
	exitFault
	exitConfErr
)

var (
	configFileName string
	uid            int
	startMProf     bool
	printVer       bool
	dumpConf       bool
)

func init() {
	flag.StringVar(&configFileName, "c", config.DefaultConfFn, "config file name")
	flag.IntVar(&uid, "u", -1, "only proxy the local traffic of this user id")
	flag.BoolVar(&startMProf, "mp", false, "memory pprof")
	flag.BoolVar(&printVer, "v", false, "print the version string then exit")
	flag.BoolVar(&dumpConf, "dump", false, "print the effective config then exit")

	flag.IntVar(&utils.LogLevel, "ll", utils.DefaultLL, "log level,0=debug, 1=info, 2=warning, 3=error, 4=fatal")
	flag.StringVar(&utils.LogOutFileName, "lf", "", "output file for log; If empty, no log file will be used.")
}

func main() {
	os.Exit(mainFunc())
}

func mainFunc() (result int) {
	defer func() {
		if r := recover(); r != nil {
			if ce := utils.CanLogErr("Captured panic!"); ce != nil {
				ce.Write(
					zap.Any("err:", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
			//zap 在console里 会转译换行符, 所以 stack 单独打印一遍
			log.Println("panic captured!", r, "\n", string(debug.Stack()))

			result = exitFault
		}
	}()

	utils.ParseFlags()

	if printVer {
		printVersion_simple(os.Stdout)
		return
	}

	fpath := utils.GetFilePath(configFileName)
	if !utils.FileExist(fpath) {
		if utils.GivenFlags["c"] == nil {
			log.Printf("No -c provided and default %q doesn't exist", config.DefaultConfFn)
		} else {
			log.Printf("-c provided but %q doesn't exist", configFileName)
		}
		return exitConfErr
	}

	conf, err := config.LoadTomlConfFile(fpath)
	if err != nil {
		log.Println("load config failed:", err)
		return exitConfErr
	}

	if dumpConf {
		if err = conf.DumpPurged(os.Stdout); err != nil {
			log.Println(err)
			return exitConfErr
		}
		return
	}

	conf.Setup()
	utils.InitLog("Program started")
	defer utils.ZapLogger.Sync()

	printVersion(os.Stdout)

	if startMProf {
		//若不使用 NoShutdownHook, 则 我们ctrl+c退出时不会产生 pprof文件
		p := profile.Start(profile.MemProfile, profile.MemProfileRate(1), profile.NoShutdownHook)
		defer p.Stop()
	}

	m, err := machine.New(conf, conf.UID(uid))
	if err != nil {
		if ce := utils.CanLogErr("can't create machine"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return exitConfErr
	}

	go func() {
		for range utils.GetSystemKillChan() {
			utils.Info("Program got close signal.")
			m.Stop()
		}
	}()

	if err = m.Run(); err != nil {
		if ce := utils.CanLogErr("seeker stopped with error"); ce != nil {
			ce.Write(zap.Error(err))
		}
		result = exitFault
	}

	fmt.Println("Stop server. Bye bye...")
	return
}
