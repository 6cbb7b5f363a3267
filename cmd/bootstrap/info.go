package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vivica-app/Vivica/pkg/config"
	"github.com/vivica-app/Vivica/pkg/logger"
)

const banner = `
 __     __ _         _
 \ \   / /(_)__   __(_)  ___  __ _
  \ \ / / | |\ \ / /| | / __|/ _` + "`" + ` |
   \ V /  | | \ V / | || (__| (_| |
    \_/   |_|  \_/  |_| \___|\__,_|
`

// PrintBanner 启动横幅
func PrintBanner() {
	fmt.Print(banner)
}

// LogConfigInfo 输出关键配置项，便于确认启动参数
func LogConfigInfo() {
	cfg := config.GlobalConfig
	if cfg == nil {
		return
	}
	logger.Info("checked config -- app: ",
		zap.String("name", cfg.AppName),
		zap.String("mode", cfg.Mode),
	)
	logger.Info("checked config -- db: ",
		zap.String("driver", cfg.DBDriver),
		zap.String("dsn", cfg.DSN),
	)
	logger.Info("checked config -- voice: ",
		zap.String("asr", cfg.ASRWsURL),
		zap.String("tts", cfg.TTSProvider),
		zap.Duration("silenceTimeout", cfg.SilenceTimeout),
	)
	logger.Info("checked config -- llm: ",
		zap.String("model", cfg.LLMModel),
		zap.Int("apiKeys", len(cfg.LLMApiKeys)),
	)
}
