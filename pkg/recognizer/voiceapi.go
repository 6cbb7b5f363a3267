package recognizer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid"
	"github.com/sirupsen/logrus"
	"github.com/vivica-app/Vivica/pkg/audio"
)

// VoiceapiOption 流式识别服务配置
type VoiceapiOption struct {
	URL        string `json:"url" yaml:"url" env:"ASR_WS_URL"`
	Language   string `json:"language" yaml:"language" env:"ASR_LANGUAGE"`
	SampleRate uint32 `json:"sampleRate" yaml:"sample_rate" default:"16000"`
}

// NewVoiceapiOption 返回带默认值的配置
func NewVoiceapiOption(url, language string) VoiceapiOption {
	return VoiceapiOption{
		URL:        url,
		Language:   language,
		SampleRate: 16000,
	}
}

// VoiceapiResponse 识别服务的JSON帧
type VoiceapiResponse struct {
	Idx      int    `json:"idx"`
	Finished bool   `json:"finished"`
	Text     string `json:"text"`
}

// VoiceapiRecognizer 基于websocket的流式识别器
// 上行发送二进制PCM帧，下行接收 {idx, finished, text} JSON帧。
// 持有独立的采集设备，一轮识别对应一个websocket连接。
type VoiceapiRecognizer struct {
	opt     VoiceapiOption
	capture *audio.Capture
	events  Events

	mu  sync.Mutex
	cur *voiceapiRound
}

// voiceapiRound 一轮连续识别的连接状态
type voiceapiRound struct {
	dialogID string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	endOnce  sync.Once

	resultMu     sync.Mutex
	sentence     string
	lastFinalIdx int
	// delivered 本轮已交付过最终结果，之后的上行帧到下次 Start 前全部丢弃
	delivered bool
}

// NewVoiceapiRecognizer 创建识别器实例，采集设备初始化失败时返回错误
func NewVoiceapiRecognizer(opt VoiceapiOption) (*VoiceapiRecognizer, error) {
	if opt.SampleRate == 0 {
		opt.SampleRate = 16000
	}
	capture, err := audio.NewCapture(&audio.CaptureConfig{
		SampleRate: opt.SampleRate,
		Channels:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("voiceapi asr: %w", err)
	}
	return &VoiceapiRecognizer{opt: opt, capture: capture}, nil
}

func (v *VoiceapiRecognizer) Init(events Events) {
	v.events = events
}

func (v *VoiceapiRecognizer) Vendor() string {
	return "voiceapi"
}

// Active 检查当前是否有进行中的识别轮次
func (v *VoiceapiRecognizer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur != nil
}

// Start 开启一轮连续识别
// 已在运行时返回 ErrAlreadyStarted，拨号失败的错误按可恢复性分类后也通过 OnError 上报
func (v *VoiceapiRecognizer) Start() error {
	v.mu.Lock()
	if v.cur != nil {
		v.mu.Unlock()
		return ErrAlreadyStarted
	}

	wsURL := fmt.Sprintf("%s?lang=%s&samplerate=%d", v.opt.URL, v.opt.Language, v.opt.SampleRate)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		v.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"url": v.opt.URL,
		}).WithError(err).Error("voiceapi asr: failed to dial websocket")
		return fmt.Errorf("voiceapi asr: dial: %w", err)
	}

	dialogID, _ := gonanoid.Nanoid()
	r := &voiceapiRound{
		dialogID:     dialogID,
		conn:         conn,
		lastFinalIdx: -1,
	}
	v.cur = r
	v.mu.Unlock()

	if err := v.capture.Start(func(pcm []byte) {
		v.sendAudio(r, pcm)
	}); err != nil {
		v.finishRound(r, err)
		return err
	}

	go v.recvFrames(r)

	logrus.WithFields(logrus.Fields{
		"dialogID": dialogID,
		"language": v.opt.Language,
	}).Info("voiceapi asr: recognition started")
	if v.events.OnStart != nil {
		v.events.OnStart()
	}
	return nil
}

// Stop 结束当前识别轮次，未运行时为空操作
func (v *VoiceapiRecognizer) Stop() error {
	v.mu.Lock()
	r := v.cur
	v.mu.Unlock()
	if r == nil {
		return nil
	}
	v.finishRound(r, nil)
	return nil
}

// Close 释放采集设备
func (v *VoiceapiRecognizer) Close() error {
	_ = v.Stop()
	if v.capture != nil {
		v.capture.Close()
	}
	return nil
}

// sendAudio 发送一帧PCM，轮次已结束时静默丢弃
func (v *VoiceapiRecognizer) sendAudio(r *voiceapiRound, pcm []byte) {
	v.mu.Lock()
	stale := v.cur != r
	v.mu.Unlock()
	if stale {
		return
	}

	r.writeMu.Lock()
	err := r.conn.WriteMessage(websocket.BinaryMessage, pcm)
	r.writeMu.Unlock()
	if err != nil {
		v.emitError(r, fmt.Errorf("voiceapi asr: send audio: %w", err))
		v.finishRound(r, nil)
	}
}

// recvFrames 接收下行JSON帧直到连接关闭
func (v *VoiceapiRecognizer) recvFrames(r *voiceapiRound) {
	for {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
				websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"dialogID": r.dialogID,
				}).Debug("voiceapi asr: connection closed")
			} else {
				v.emitError(r, fmt.Errorf("voiceapi asr: recv: %w", err))
			}
			// 连接断开时若有未定稿的句子，补发一次最终结果
			v.flushPending(r)
			v.finishRound(r, nil)
			return
		}

		var res VoiceapiResponse
		if err := json.Unmarshal(message, &res); err != nil {
			logrus.WithFields(logrus.Fields{
				"dialogID": r.dialogID,
				"message":  string(message),
			}).WithError(err).Error("voiceapi asr: failed to unmarshal message")
			v.emitError(r, fmt.Errorf("voiceapi asr: unmarshal: %w", err))
			continue
		}

		if res.Text == "" {
			continue
		}

		if res.Finished {
			v.emitFinal(r, res.Idx, res.Text)
		} else {
			r.resultMu.Lock()
			done := r.delivered
			if !done {
				r.sentence = res.Text
			}
			r.resultMu.Unlock()
			if done {
				continue
			}
			if v.events.OnInterim != nil {
				v.events.OnInterim(res.Text)
			}
		}
	}
}

// emitFinal 交付最终结果，每轮只交付一次
func (v *VoiceapiRecognizer) emitFinal(r *voiceapiRound, idx int, text string) {
	r.resultMu.Lock()
	if r.delivered || idx <= r.lastFinalIdx {
		r.resultMu.Unlock()
		return
	}
	r.lastFinalIdx = idx
	r.sentence = ""
	r.delivered = true
	r.resultMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"dialogID": r.dialogID,
		"idx":      idx,
		"text":     text,
	}).Info("voiceapi asr: final result")
	if v.events.OnFinal != nil {
		v.events.OnFinal(text, r.dialogID)
	}
}

// flushPending 连接结束时将未定稿的句子作为最终结果交付
func (v *VoiceapiRecognizer) flushPending(r *voiceapiRound) {
	r.resultMu.Lock()
	pending := r.sentence
	idx := r.lastFinalIdx + 1
	r.resultMu.Unlock()
	if pending != "" {
		v.emitFinal(r, idx, pending)
	}
}

func (v *VoiceapiRecognizer) emitError(r *voiceapiRound, err error) {
	v.mu.Lock()
	stale := v.cur != r
	v.mu.Unlock()
	if stale {
		return
	}
	if v.events.OnError != nil {
		v.events.OnError(err, IsRecoverable(err))
	}
}

// finishRound 结束一轮识别：停止采集、关闭连接、交付一次 OnEnd
func (v *VoiceapiRecognizer) finishRound(r *voiceapiRound, startErr error) {
	r.endOnce.Do(func() {
		v.mu.Lock()
		if v.cur == r {
			v.cur = nil
		}
		v.mu.Unlock()

		if v.capture != nil {
			v.capture.Stop()
		}

		r.writeMu.Lock()
		_ = r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.writeMu.Unlock()
		_ = r.conn.Close()

		if startErr != nil && v.events.OnError != nil {
			v.events.OnError(startErr, IsRecoverable(startErr))
		}
		if v.events.OnEnd != nil {
			v.events.OnEnd()
		}
	})
}
