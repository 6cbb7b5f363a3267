package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`       // debug, info, warn, error
	Filename   string `env:"LOG_FILENAME"`    // 为空时只输出到控制台
	MaxSize    int    `env:"LOG_MAX_SIZE"`    // 单个日志文件最大尺寸（MB）
	MaxAge     int    `env:"LOG_MAX_AGE"`     // 日志保留天数
	MaxBackups int    `env:"LOG_MAX_BACKUPS"` // 保留的旧日志文件数
	Daily      bool   `env:"LOG_DAILY"`
}

var (
	global *zap.Logger
	mu     sync.RWMutex
)

// Init 初始化全局日志记录器
// mode 为 development 时使用控制台编码并开启调用者信息
func Init(cfg *LogConfig, mode string) error {
	level := parseLevel(cfg.Level)

	var cores []zapcore.Core

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	))

	if cfg.Filename != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    orDefault(cfg.MaxSize, 100),
			MaxAge:     orDefault(cfg.MaxAge, 30),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			Compress:   true,
		}
		fileEncoderCfg := zap.NewProductionEncoderConfig()
		fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderCfg),
			zapcore.AddSync(writer),
			level,
		))
	}

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if mode == "development" || mode == "test" {
		opts = append(opts, zap.AddCaller(), zap.Development())
	}

	l := zap.New(zapcore.NewTee(cores...), opts...)

	mu.Lock()
	global = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	return nil
}

// L 获取全局logger，未初始化时返回no-op logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Sync 刷新缓冲的日志条目
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		_ = global.Sync()
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
