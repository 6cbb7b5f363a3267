package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Provider TTS服务提供商类型
type Provider string

const (
	// ProviderLocal 本地命令行TTS（say/espeak/festival）
	ProviderLocal Provider = "local"
	// ProviderOpenAI OpenAI speech API
	ProviderOpenAI Provider = "openai"
)

func (p Provider) ToString() string {
	return string(p)
}

var (
	// ErrCanceled 合成或播放被新的请求或 Cancel 打断
	ErrCanceled = errors.New("synthesizer: canceled")
	// ErrNoAudio 合成未产生任何音频数据
	ErrNoAudio = errors.New("synthesizer: no audio data generated")
	// ErrUnavailable 当前平台没有可用的合成服务
	ErrUnavailable = errors.New("synthesizer: no synthesis service available")
)

// Voice 可用音色
type Voice struct {
	Name    string `json:"name"`
	Locale  string `json:"locale"`
	Default bool   `json:"default"`
}

// Service 语音合成服务
// Synthesize 返回 16-bit little-endian 单声道 PCM，采样率由 SampleRate 给出
type Service interface {
	Provider() Provider
	SampleRate() int
	Voices(ctx context.Context) ([]Voice, error)
	CacheKey(voice, text string) string
	Synthesize(ctx context.Context, voice, text string) ([]byte, error)
	Close() error
}

var emojiRegex = regexp.MustCompile(`[\x{00A9}\x{00AE}\x{203C}\x{2049}\x{2122}\x{2139}\x{2194}-\x{2199}\x{21A9}-\x{21AA}\x{231A}-\x{231B}\x{2328}\x{23CF}\x{23E9}-\x{23F3}\x{23F8}-\x{23FA}\x{24C2}\x{25AA}-\x{25AB}\x{25B6}\x{25C0}\x{25FB}-\x{25FE}\x{2600}-\x{26FF}\x{2700}-\x{27BF}\x{2B05}-\x{2B07}\x{2B1B}-\x{2B1C}\x{2B50}\x{2B55}\x{3030}\x{303D}\x{3297}\x{3299}\x{1F004}\x{1F0CF}\x{1F170}-\x{1F251}\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F910}-\x{1F93E}\x{1F940}-\x{1F94C}\x{1F950}-\x{1F96B}\x{1F980}-\x{1F997}\x{1F9C0}-\x{1F9E6}\x{1FA70}-\x{1FA74}\x{1FA78}-\x{1FA7A}\x{1FA80}-\x{1FA86}\x{1FA90}-\x{1FAA8}\x{1FAB0}-\x{1FAB6}\x{1FAC0}-\x{1FAC2}\x{1FAD0}-\x{1FAD6}\x{1F1E6}-\x{1F1FF}\x{200D}\x{FE0F}]`)

// StripEmoji 去除文本中的emoji，避免合成引擎读出乱码
func StripEmoji(text string) string {
	return emojiRegex.ReplaceAllString(text, "")
}

// CastOption 将键值对配置映射到具体的配置结构
func CastOption[T any](options map[string]any) T {
	var opt T
	if options == nil {
		return opt
	}
	data, err := json.Marshal(options)
	if err != nil {
		return opt
	}
	_ = json.Unmarshal(data, &opt)
	return opt
}

// NewService 根据提供商名称创建合成服务
func NewService(name string, options map[string]any) (Service, error) {
	switch Provider(name) {
	case ProviderLocal:
		return NewLocalService(CastOption[LocalConfig](options)), nil
	case ProviderOpenAI:
		return NewOpenAIService(CastOption[OpenAIConfig](options)), nil
	default:
		return nil, fmt.Errorf("synthesizer: unknown provider: %s", name)
	}
}
