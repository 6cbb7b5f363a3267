package voice

import "time"

// Config 会话控制器配置
type Config struct {
	// 聆听状态下无任何识别结果的最长静默时间
	SilenceTimeout time.Duration
	// 一次会话内识别自动重启的上限
	MaxRestarts int
	// 进入错误状态后自动重试前的等待时间
	ErrorRetryWait time.Duration
	// 错误状态自动重试的上限，超过后需要手动重新开启会话
	MaxErrorRetries int
	// 是否向订阅者转发中间识别结果
	InterimResults bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:  3000 * time.Millisecond,
		MaxRestarts:     5,
		ErrorRetryWait:  3 * time.Second,
		MaxErrorRetries: 3,
		InterimResults:  true,
	}
}

// ConfigPatch 配置增量更新，非nil字段覆盖现有值（后写覆盖先写）
type ConfigPatch struct {
	SilenceTimeout  *time.Duration
	MaxRestarts     *int
	ErrorRetryWait  *time.Duration
	MaxErrorRetries *int
	InterimResults  *bool
}

// Apply 将补丁应用到配置上，返回新配置
func (c Config) Apply(patch ConfigPatch) Config {
	if patch.SilenceTimeout != nil {
		c.SilenceTimeout = *patch.SilenceTimeout
	}
	if patch.MaxRestarts != nil {
		c.MaxRestarts = *patch.MaxRestarts
	}
	if patch.ErrorRetryWait != nil {
		c.ErrorRetryWait = *patch.ErrorRetryWait
	}
	if patch.MaxErrorRetries != nil {
		c.MaxErrorRetries = *patch.MaxErrorRetries
	}
	if patch.InterimResults != nil {
		c.InterimResults = *patch.InterimResults
	}
	return c
}
