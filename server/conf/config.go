package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zhukovaskychina/xmysql-undo/logger"
	"github.com/zhukovaskychina/xmysql-undo/server/common"

	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
配置文件示例(my.ini)：

[mysqld]
datadir = /var/lib/mysql

[innodb]
innodb_page_size     = 16384
innodb_undo_log_dir  = undo
innodb_redo_log_dir  = redo

[undo]
discard_interval     = 1s
hibernate_multiplier = 10

[logs]
log_error = /var/log/mysql/error.log
log_infos = /var/log/mysql/mysql.log
log_level = info
*/
type Cfg struct {
	Raw     *ini.File
	DataDir string
	AppName string

	// logs
	LogError string `default:"/var/log/mysql/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"/var/log/mysql/mysql.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// innodb
	InnodbPageSize   int    `default:"16384" yaml:"innodb_page_size" json:"innodb_page_size,omitempty"`
	InnodbUndoLogDir string `default:"undo" yaml:"innodb_undo_log_dir" json:"innodb_undo_log_dir,omitempty"`
	InnodbRedoLogDir string `default:"redo" yaml:"innodb_redo_log_dir" json:"innodb_redo_log_dir,omitempty"`

	// undo后台回收
	DiscardInterval         string `default:"1s" yaml:"discard_interval" json:"discard_interval,omitempty"`
	DiscardIntervalDuration time.Duration
	HibernateMultiplier     int `default:"10" yaml:"hibernate_multiplier" json:"hibernate_multiplier,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:     ini.Empty(),
		DataDir: "data",
		AppName: "xmysql-undo",

		LogError: "/var/log/mysql/error.log",
		LogInfos: "/var/log/mysql/mysql.log",
		LogLevel: "info",

		InnodbPageSize:   common.UNIV_PAGE_SIZE,
		InnodbUndoLogDir: "undo",
		InnodbRedoLogDir: "redo",

		DiscardInterval:         "1s",
		DiscardIntervalDuration: time.Second,
		HibernateMultiplier:     10,
	}
}

func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		logger.Debugf("加载配置文件时有异常: %v\n", err)
		os.Exit(1)
	}
	cfg.Raw = iniFile

	cfg.parseMysqldCfg(cfg.Raw.Section("mysqld"))
	cfg.parseInnodbCfg(cfg.Raw.Section("innodb"))
	cfg.parseUndoCfg(cfg.Raw.Section("undo"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}

	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	// 未指定配置文件时使用默认配置
	if args.ConfigPath == "" {
		return ini.Empty(), nil
	}

	iniFile, err := ini.Load(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	return iniFile, nil
}

func (cfg *Cfg) parseMysqldCfg(section *ini.Section) *Cfg {
	cfg.DataDir = section.Key("datadir").MustString(cfg.DataDir)
	return cfg
}

func (cfg *Cfg) parseInnodbCfg(section *ini.Section) *Cfg {
	cfg.InnodbPageSize = section.Key("innodb_page_size").MustInt(cfg.InnodbPageSize)
	cfg.InnodbUndoLogDir = section.Key("innodb_undo_log_dir").MustString(cfg.InnodbUndoLogDir)
	cfg.InnodbRedoLogDir = section.Key("innodb_redo_log_dir").MustString(cfg.InnodbRedoLogDir)
	return cfg
}

func (cfg *Cfg) parseUndoCfg(section *ini.Section) *Cfg {
	cfg.DiscardInterval = section.Key("discard_interval").MustString(cfg.DiscardInterval)
	cfg.HibernateMultiplier = section.Key("hibernate_multiplier").MustInt(cfg.HibernateMultiplier)

	d, err := time.ParseDuration(cfg.DiscardInterval)
	if err != nil {
		logger.Errorf("discard_interval配置异常: %v", err)
		os.Exit(1)
	}
	cfg.DiscardIntervalDuration = d
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	cfg.LogError = section.Key("log_error").MustString(cfg.LogError)
	cfg.LogInfos = section.Key("log_infos").MustString(cfg.LogInfos)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)
	return cfg
}

// UndoDir 返回undo日志的实际落盘目录
func (cfg *Cfg) UndoDir() string {
	return filepath.Join(cfg.DataDir, cfg.InnodbUndoLogDir)
}

// RedoDir 返回redo日志的实际落盘目录
func (cfg *Cfg) RedoDir() string {
	return filepath.Join(cfg.DataDir, cfg.InnodbRedoLogDir)
}
