package synthesizer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink 音频输出端，由播放设备实现
type Sink interface {
	Write(data []byte) error
	Drain(cancel <-chan struct{})
	Flush()
}

// SpeakerConfig 朗读器配置
type SpeakerConfig struct {
	// 首选音色名，匹配失败时按 Locale 选择
	Voice string
	// 期望的音色地域，如 en-US
	Locale string
	// 合成结果缓存条数
	CacheSize int
	// 音色列表加载的最长等待时间，避免无限等待
	VoiceLoadTimeout time.Duration
}

// speakCall 一次 Speak 调用的取消句柄
type speakCall struct {
	cancel context.CancelFunc
}

// Speaker 朗读器：合成、缓存并播放文本
// Speak 阻塞直到播放完成或被打断；同一时刻只有最后一次 Speak 有效，
// 新的 Speak 会打断进行中的那次（其调用以 ErrCanceled 返回）。
type Speaker struct {
	svc  Service
	sink Sink
	cfg  SpeakerConfig

	cache *AudioCache

	mu      sync.Mutex
	current *speakCall

	voiceOnce sync.Once
	voiceName string

	// 写入sink的分片大小（字节）
	chunkSize int
}

// NewSpeaker 创建朗读器
func NewSpeaker(svc Service, sink Sink, cfg SpeakerConfig) (*Speaker, error) {
	if cfg.VoiceLoadTimeout <= 0 {
		cfg.VoiceLoadTimeout = 5 * time.Second
	}
	cache, err := NewAudioCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Speaker{
		svc:       svc,
		sink:      sink,
		cfg:       cfg,
		cache:     cache,
		chunkSize: 4096,
	}, nil
}

// Speak 合成并播放文本，返回时语音已播完或被打断
// 被打断（新的 Speak、Cancel 或 ctx 取消）时返回 ErrCanceled
func (sp *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(StripEmoji(text))
	if text == "" {
		return nil
	}

	// 最后一次调用获胜：打断进行中的播放
	speakCtx, cancel := context.WithCancel(ctx)
	call := &speakCall{cancel: cancel}
	sp.mu.Lock()
	if sp.current != nil {
		sp.current.cancel()
		sp.sink.Flush()
	}
	sp.current = call
	sp.mu.Unlock()

	defer func() {
		sp.mu.Lock()
		if sp.current == call {
			sp.current = nil
		}
		sp.mu.Unlock()
		cancel()
	}()

	voice := sp.resolveVoice()

	data, err := sp.synthesize(speakCtx, voice, text)
	if err != nil {
		return err
	}
	if speakCtx.Err() != nil {
		return ErrCanceled
	}

	return sp.play(speakCtx, data)
}

// Cancel 打断当前播放，没有播放时为空操作
func (sp *Speaker) Cancel() {
	sp.mu.Lock()
	if sp.current != nil {
		sp.current.cancel()
		sp.current = nil
	}
	sp.mu.Unlock()
	sp.sink.Flush()
}

// Close 释放合成服务
func (sp *Speaker) Close() error {
	sp.Cancel()
	return sp.svc.Close()
}

// resolveVoice 一次性加载音色列表并选出匹配的音色
// 加载失败或超时则回退到提供商默认音色，永不无限等待
func (sp *Speaker) resolveVoice() string {
	sp.voiceOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sp.cfg.VoiceLoadTimeout)
		defer cancel()

		voices, err := sp.svc.Voices(ctx)
		if err != nil {
			logrus.WithError(err).Warn("speaker: failed to load voices, using provider default")
			return
		}
		sp.voiceName = SelectVoice(voices, sp.cfg.Voice, sp.cfg.Locale)
		logrus.WithFields(logrus.Fields{
			"voice":  sp.voiceName,
			"locale": sp.cfg.Locale,
			"count":  len(voices),
		}).Info("speaker: voice selected")
	})
	return sp.voiceName
}

// synthesize 合成文本，优先命中缓存
func (sp *Speaker) synthesize(ctx context.Context, voice, text string) ([]byte, error) {
	key := sp.svc.CacheKey(voice, text)
	if data, ok := sp.cache.Get(key); ok {
		logrus.WithFields(logrus.Fields{
			"cacheKey": key,
			"vendor":   sp.svc.Provider().ToString(),
		}).Debug("speaker: cache hit")
		return data, nil
	}

	data, err := sp.svc.Synthesize(ctx, voice, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}
		return nil, err
	}
	sp.cache.Store(key, data)
	return data, nil
}

// play 分片写入sink并等待播放完成
func (sp *Speaker) play(ctx context.Context, data []byte) error {
	for i := 0; i < len(data); {
		if ctx.Err() != nil {
			sp.sink.Flush()
			return ErrCanceled
		}
		end := i + sp.chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := sp.sink.Write(data[i:end]); err != nil {
			// 缓冲区满时让出一个播放周期再重试本分片
			time.Sleep(20 * time.Millisecond)
			continue
		}
		i = end
	}

	sp.sink.Drain(ctx.Done())
	if ctx.Err() != nil {
		sp.sink.Flush()
		return ErrCanceled
	}
	return nil
}

// SelectVoice 在音色列表中选择最匹配的音色
// 优先精确名称匹配，其次完整locale匹配，再次语言前缀匹配，最后取默认音色
func SelectVoice(voices []Voice, preferred, locale string) string {
	if len(voices) == 0 {
		return ""
	}

	if preferred != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Name, preferred) {
				return v.Name
			}
		}
	}

	if locale != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Locale, locale) {
				return v.Name
			}
		}
		lang, _, _ := strings.Cut(locale, "-")
		for _, v := range voices {
			vlang, _, _ := strings.Cut(v.Locale, "-")
			if strings.EqualFold(vlang, lang) {
				return v.Name
			}
		}
	}

	for _, v := range voices {
		if v.Default {
			return v.Name
		}
	}
	return voices[0].Name
}
