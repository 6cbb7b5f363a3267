package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/vivica-app/Vivica/pkg/logger"
	"github.com/vivica-app/Vivica/pkg/utils"
)

// Config 应用全局配置
type Config struct {
	AppName  string `env:"APP_NAME"`
	Mode     string `env:"MODE"` // development, production, test
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`
	Log      logger.LogConfig

	// LLM配置（LLM_API_KEYS 支持逗号分隔的多个密钥，按顺序回退）
	LLMApiKeys []string `env:"LLM_API_KEYS"`
	LLMBaseURL string   `env:"LLM_BASE_URL"`
	LLMModel   string   `env:"LLM_MODEL"`

	// ASR配置
	ASRWsURL    string `env:"ASR_WS_URL"`
	ASRLanguage string `env:"ASR_LANGUAGE"`

	// TTS配置
	TTSProvider string `env:"TTS_PROVIDER"` // local, openai
	TTSVoice    string `env:"TTS_VOICE"`
	TTSLocale   string `env:"TTS_LOCALE"`
	TTSApiKey   string `env:"TTS_API_KEY"`
	TTSBaseURL  string `env:"TTS_BASE_URL"`
	TTSCacheMax int    `env:"TTS_CACHE_MAX"`

	// 语音会话配置
	SilenceTimeout time.Duration `env:"SILENCE_TIMEOUT"`
	MaxRestarts    int           `env:"MAX_RESTARTS"`
	ErrorRetryWait time.Duration `env:"ERROR_RETRY_WAIT"`

	// 小组件配置
	WeatherEnabled  bool     `env:"WEATHER_ENABLED"`
	WeatherLat      float64  `env:"WEATHER_LAT"`
	WeatherLon      float64  `env:"WEATHER_LON"`
	NewsEnabled     bool     `env:"NEWS_ENABLED"`
	NewsFeeds       []string `env:"NEWS_FEEDS"`
	WidgetsSchedule string   `env:"WIDGETS_SCHEDULE"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	env := os.Getenv("APP_ENV")
	err := utils.LoadEnv(env)
	if err != nil {
		// .env文件不存在时只记录日志，不影响启动
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. 加载全局配置（所有配置都有默认值，确保无.env文件也能启动）
	GlobalConfig = &Config{
		AppName:  getStringOrDefault("APP_NAME", "vivica"),
		Mode:     getStringOrDefault("MODE", "development"),
		DBDriver: getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:      getStringOrDefault("DSN", "./vivica.db"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/vivica.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		LLMApiKeys: splitList(utils.GetEnv("LLM_API_KEYS")),
		LLMBaseURL: getStringOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:   getStringOrDefault("LLM_MODEL", "gpt-4o-mini"),

		ASRWsURL:    getStringOrDefault("ASR_WS_URL", "ws://localhost:7073/asr"),
		ASRLanguage: getStringOrDefault("ASR_LANGUAGE", "en-US"),

		TTSProvider: getStringOrDefault("TTS_PROVIDER", "local"),
		TTSVoice:    getStringOrDefault("TTS_VOICE", ""),
		TTSLocale:   getStringOrDefault("TTS_LOCALE", "en-US"),
		TTSApiKey:   getStringOrDefault("TTS_API_KEY", ""),
		TTSBaseURL:  getStringOrDefault("TTS_BASE_URL", "https://api.openai.com/v1"),
		TTSCacheMax: getIntOrDefault("TTS_CACHE_MAX", 64),

		SilenceTimeout: getDurationOrDefault("SILENCE_TIMEOUT", 3000*time.Millisecond),
		MaxRestarts:    getIntOrDefault("MAX_RESTARTS", 5),
		ErrorRetryWait: getDurationOrDefault("ERROR_RETRY_WAIT", 3*time.Second),

		WeatherEnabled:  getBoolOrDefault("WEATHER_ENABLED", false),
		WeatherLat:      getFloatOrDefault("WEATHER_LAT", 0),
		WeatherLon:      getFloatOrDefault("WEATHER_LON", 0),
		NewsEnabled:     getBoolOrDefault("NEWS_ENABLED", false),
		NewsFeeds:       splitList(utils.GetEnv("NEWS_FEEDS")),
		WidgetsSchedule: getStringOrDefault("WIDGETS_SCHEDULE", "@every 30m"),
	}
	return nil
}

// getStringOrDefault 获取环境变量值，如果为空则返回默认值
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault 获取布尔环境变量值，如果为空则返回默认值
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault 获取整数环境变量值，如果未设置则返回默认值
// 显式设置的 0 是合法值，不会被默认值覆盖
func getIntOrDefault(key string, defaultValue int) int {
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return int(utils.GetIntEnv(key))
}

// getFloatOrDefault 获取浮点环境变量值，如果为空则返回默认值
func getFloatOrDefault(key string, defaultValue float64) float64 {
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return utils.GetFloatEnv(key)
}

// getDurationOrDefault 获取时长环境变量值（如 "3s"、"1500ms"），解析失败返回默认值
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// splitList 解析逗号分隔的环境变量列表，忽略空白项
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
