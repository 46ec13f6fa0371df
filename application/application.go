// Package application 负责进程启动阶段的公共工作：解析配置文件路径、加载配置、初始化全局与模块日志。
package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	zlog "github.com/lk2023060901/sessionmanager-go/pkg/log"
	zviper "github.com/lk2023060901/sessionmanager-go/pkg/util/viper"
)

const (
	// EnvPrefix 为所有环境变量的前缀，配置项 storage.driver 对应 SESSIONMGR_STORAGE_DRIVER。
	EnvPrefix = "SESSIONMGR"

	defaultConfigPath = "./config.yaml"
	envConfigPath     = EnvPrefix + "_CONFIG_FILE_PATH"
)

// Application 持有加载后的配置与按模块命名的日志。
type Application struct {
	raw     *zviper.Config
	cfg     *Config
	loggers map[string]*zlog.MLogger
	args    []string
}

// New 创建一个 Application，命令行参数取自 os.Args。
func New() *Application {
	return &Application{args: os.Args[1:]}
}

// NewWithArgs 创建一个使用给定命令行参数的 Application。
func NewWithArgs(args []string) *Application {
	return &Application{args: args}
}

// Run 加载配置并初始化日志。
//
// 配置文件路径优先级（后者覆盖前者）：
//  1. 缺省：./config.yaml，文件不存在时只使用缺省值与环境变量；
//  2. 环境变量：SESSIONMGR_CONFIG_FILE_PATH；
//  3. 命令行：--config <path> 或 --config=<path>。
//
// 显式指定的配置文件不存在时返回错误。
func (a *Application) Run() error {
	raw, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.raw = raw

	cfg := &Config{}
	if err := raw.Unmarshal(cfg); err != nil {
		return errors.Wrap(err, "decode config")
	}
	a.cfg = cfg

	return a.initLogging()
}

// Config 返回加载后的配置，Run 之前为 nil。
func (a *Application) Config() *Config {
	return a.cfg
}

// Logger 返回在 logging 配置中声明的模块日志，未声明时回退到全局日志并附带模块名。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L().With(zlog.FieldModule(name))}
}

func (a *Application) configPath() (path string, explicit bool, err error) {
	path = defaultConfigPath
	if envPath := os.Getenv(envConfigPath); envPath != "" {
		path, explicit = envPath, true
	}

	for i := 0; i < len(a.args); i++ {
		arg := a.args[i]
		if arg == "--config" {
			if i+1 >= len(a.args) {
				return "", false, errors.New("missing value after --config")
			}
			path, explicit = a.args[i+1], true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			path, explicit = val, true
		}
	}
	return path, explicit, nil
}

func (a *Application) loadConfig() (*zviper.Config, error) {
	path, explicit, err := a.configPath()
	if err != nil {
		return nil, err
	}

	cfg := zviper.NewWithEnv(EnvPrefix)
	cfg.SetDefaults(defaults())

	if _, statErr := os.Stat(path); statErr != nil && !explicit && os.IsNotExist(statErr) {
		return cfg, nil
	}
	if err := cfg.LoadFile(path); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", path)
	}
	return cfg, nil
}

func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 按 SESSIONMGR_LOG_* 环境变量配置全局日志。
//
// 说明：
//   - SESSIONMGR_LOG_ENABLE：为 "1"/"true" 时开启输出，缺省开启；
//   - SESSIONMGR_LOG_LEVEL：日志级别，缺省 info；
//   - SESSIONMGR_LOG_STDOUT：是否输出到标准输出，缺省 true；
//   - SESSIONMGR_LOG_FILE_DIR / SESSIONMGR_LOG_FILE：日志目录与文件名，文件名为空时不写文件；
//   - SESSIONMGR_LOG_FORMAT：text 或 json，缺省 text；
//   - SESSIONMGR_LOG_ASYNC：开启异步写入，进程退出前由 log.Cleanup 刷新。
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool(EnvPrefix+"_LOG_ENABLE", true)

	cfg := &zlog.Config{
		Level:  getenvDefault(EnvPrefix+"_LOG_LEVEL", "info"),
		Format: getenvDefault(EnvPrefix+"_LOG_FORMAT", "text"),
		Stdout: getenvBool(EnvPrefix+"_LOG_STDOUT", true),
		Async:  zlog.AsyncConfig{Enable: getenvBool(EnvPrefix+"_LOG_ASYNC", false)},
		File: zlog.FileLogConfig{
			RootPath: getenvDefault(EnvPrefix+"_LOG_FILE_DIR", ""),
			Filename: getenvDefault(EnvPrefix+"_LOG_FILE", ""),
		},
	}
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 按 logging 配置段创建模块日志。
//
// 示例：
//
//	logging:
//	  hostlink:
//	    level: debug
//	    stdout: true
//	  archive:
//	    level: info
//	    file:
//	      rootPath: ./logs
//	      filename: archive.log
func (a *Application) initModuleLoggersFromConfig() error {
	raw := make(map[string]zlog.Config)
	if err := a.raw.UnmarshalKey("logging", &raw); err != nil {
		return errors.Wrap(err, "decode logging config")
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.NewLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
