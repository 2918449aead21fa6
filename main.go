package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhukovaskychina/xmysql-undo/logger"
	"github.com/zhukovaskychina/xmysql-undo/server/conf"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/manager"
)

const help = `
******************************************************************************************
 xmysql-undo  后台undo回收进程
*帮助:
*1. -- help
*2. -- configPath   指定my.ini配置文件
******************************************************************************************
`

func main() {
	fmt.Println("Starting XMySQL Undo Worker...")

	// 解析命令行参数
	var configPath string
	var showHelp bool
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.BoolVar(&showHelp, "help", false, "显示帮助")
	flag.Parse()
	if showHelp {
		fmt.Print(help + "\n")
		return
	}

	args := &conf.CommandLineArgs{
		ConfigPath: configPath,
	}
	config := conf.NewCfg().Load(args)

	// 初始化日志
	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	// 组装undo子系统
	undoMgr, err := manager.NewUndoLogManager(config.UndoDir())
	if err != nil {
		logger.Fatalf("初始化undo日志管理器失败: %v", err)
	}
	defer undoMgr.Close()

	redoMgr, err := manager.NewRedoLogManager(config.RedoDir())
	if err != nil {
		logger.Fatalf("初始化redo日志管理器失败: %v", err)
	}
	defer redoMgr.Close()

	trxSys := manager.NewTrxSysManager()
	tables := manager.NewTableRegistry()
	pool := buffer_pool.NewBufferPool()
	executor := manager.NewUndoActionExecutor(undoMgr, tables, pool, redoMgr)
	purge := manager.NewUndoPurgeManager(undoMgr, trxSys, executor)

	purge.StartWorker(config.DiscardIntervalDuration, config.HibernateMultiplier)
	logger.Infof("undo回收进程已启动，回收周期%s", config.DiscardInterval)

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("收到退出信号，停止undo回收")
	purge.Stop()
}
