package synthesizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// OpenAIConfig OpenAI speech API 配置
type OpenAIConfig struct {
	APIKey     string  `json:"api_key" yaml:"api_key" env:"TTS_API_KEY"`
	BaseURL    string  `json:"base_url" yaml:"base_url" default:"https://api.openai.com/v1"`
	Model      string  `json:"model" yaml:"model" default:"tts-1"`
	Speed      float64 `json:"speed" yaml:"speed" default:"1.0"`
	SampleRate int     `json:"sample_rate" yaml:"sample_rate" default:"24000"`
	Timeout    int     `json:"timeout" yaml:"timeout" default:"30"`
}

// NewOpenAIConfig 创建 OpenAI TTS 配置
func NewOpenAIConfig(apiKey, baseURL string) OpenAIConfig {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return OpenAIConfig{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      "tts-1",
		Speed:      1.0,
		SampleRate: 24000,
		Timeout:    30,
	}
}

// OpenAIService OpenAI speech API 合成服务
// response_format=pcm 直接返回 24kHz 16-bit 单声道 PCM，无需解码
type OpenAIService struct {
	opt    OpenAIConfig
	mu     sync.Mutex // 保护 opt 的并发访问
	client *resty.Client
}

// openAIRequest speech API 请求体
type openAIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// NewOpenAIService 创建 OpenAI TTS 服务
func NewOpenAIService(opt OpenAIConfig) *OpenAIService {
	if opt.Model == "" {
		opt.Model = "tts-1"
	}
	if opt.Speed == 0 {
		opt.Speed = 1.0
	}
	if opt.SampleRate == 0 {
		opt.SampleRate = 24000
	}
	if opt.Timeout == 0 {
		opt.Timeout = 30
	}
	if opt.BaseURL == "" {
		opt.BaseURL = "https://api.openai.com/v1"
	}

	client := resty.New().
		SetBaseURL(opt.BaseURL).
		SetTimeout(time.Duration(opt.Timeout) * time.Second).
		SetAuthToken(opt.APIKey)

	return &OpenAIService{opt: opt, client: client}
}

func (s *OpenAIService) Provider() Provider {
	return ProviderOpenAI
}

func (s *OpenAIService) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opt.SampleRate
}

func (s *OpenAIService) CacheKey(voice, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("openai.tts-%s-%s-%d-%s", s.opt.Model, voice, s.opt.SampleRate, Digest(text))
}

// Voices speech API 的固定音色表
func (s *OpenAIService) Voices(ctx context.Context) ([]Voice, error) {
	return []Voice{
		{Name: "alloy", Locale: "en-US", Default: true},
		{Name: "echo", Locale: "en-US"},
		{Name: "fable", Locale: "en-GB"},
		{Name: "onyx", Locale: "en-US"},
		{Name: "nova", Locale: "en-US"},
		{Name: "shimmer", Locale: "en-US"},
	}, nil
}

// Synthesize 合成文本并返回PCM数据
func (s *OpenAIService) Synthesize(ctx context.Context, voice, text string) ([]byte, error) {
	s.mu.Lock()
	opt := s.opt
	s.mu.Unlock()

	if opt.APIKey == "" {
		return nil, fmt.Errorf("openai tts: api key is required")
	}
	if voice == "" {
		voice = "alloy"
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(openAIRequest{
			Model:          opt.Model,
			Input:          text,
			Voice:          voice,
			ResponseFormat: "pcm",
			Speed:          opt.Speed,
		}).
		Post("/audio/speech")
	if err != nil {
		return nil, fmt.Errorf("openai tts: request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("openai tts: request failed with status %d: %s",
			resp.StatusCode(), resp.String())
	}

	audioData := resp.Body()
	if len(audioData) == 0 {
		return nil, ErrNoAudio
	}

	logrus.WithFields(logrus.Fields{
		"provider":  "openai",
		"model":     opt.Model,
		"voice":     voice,
		"audioSize": len(audioData),
	}).Info("openai tts: synthesis completed")
	return audioData, nil
}

func (s *OpenAIService) Close() error {
	return nil
}
