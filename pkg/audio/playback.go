package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// StreamPlayer 流式音频播放器，用于播放合成语音
type StreamPlayer struct {
	ctx         *malgo.AllocatedContext
	device      *malgo.Device
	channels    uint32
	sampleRate  uint32
	format      malgo.FormatType
	audioBuffer chan []byte
	// 内部缓冲区，用于平滑数据流
	internalBuffer []byte
	mu             sync.Mutex
	draining       bool
	drained        chan struct{}
}

// NewStreamPlayer 创建流式音频播放器
// channels: 声道数（1=单声道, 2=立体声）
// sampleRate: 采样率（如 16000, 24000, 48000）
// format: 音频格式（malgo.FormatS16 表示 16-bit signed integer）
func NewStreamPlayer(channels, sampleRate uint32, format malgo.FormatType) (*StreamPlayer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, classifyDeviceError(err)
	}

	// 约4秒的缓冲，减少音频不连续
	return &StreamPlayer{
		ctx:            ctx,
		channels:       channels,
		sampleRate:     sampleRate,
		format:         format,
		audioBuffer:    make(chan []byte, 200),
		internalBuffer: make([]byte, 0, 8192),
		drained:        make(chan struct{}, 1),
	}, nil
}

// Play 打开播放设备并开始消费缓冲区
func (p *StreamPlayer) Play() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = p.format
	deviceConfig.Playback.Channels = p.channels
	deviceConfig.SampleRate = p.sampleRate
	deviceConfig.Alsa.NoMMap = 1

	bytesPerFrame := 2 * int(p.channels) // FormatS16

	onSamples := func(pOutputSample, _ []byte, framecount uint32) {
		bytesNeeded := int(framecount) * bytesPerFrame

		p.mu.Lock()
		defer p.mu.Unlock()

		// 从channel填充内部缓冲区
	bufferLoop:
		for len(p.internalBuffer) < bytesNeeded {
			select {
			case data := <-p.audioBuffer:
				p.internalBuffer = append(p.internalBuffer, data...)
			default:
				break bufferLoop
			}
		}

		if len(p.internalBuffer) >= bytesNeeded {
			copy(pOutputSample, p.internalBuffer[:bytesNeeded])
			p.internalBuffer = p.internalBuffer[bytesNeeded:]
			return
		}

		// 数据不足，复制现有数据并填充静音
		copied := copy(pOutputSample, p.internalBuffer)
		p.internalBuffer = p.internalBuffer[:0]
		for i := copied; i < bytesNeeded; i++ {
			pOutputSample[i] = 0
		}

		// 缓冲区已空且处于排空状态时通知 Drain
		if p.draining && len(p.audioBuffer) == 0 {
			p.draining = false
			select {
			case p.drained <- struct{}{}:
			default:
			}
		}
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return classifyDeviceError(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return classifyDeviceError(err)
	}

	p.device = device
	return nil
}

// Write 写入音频数据到播放缓冲区
func (p *StreamPlayer) Write(data []byte) error {
	select {
	case p.audioBuffer <- data:
		return nil
	default:
		return fmt.Errorf("音频缓冲区已满")
	}
}

// Drain 等待缓冲区播放完毕或被取消
func (p *StreamPlayer) Drain(cancel <-chan struct{}) {
	p.mu.Lock()
	if len(p.internalBuffer) == 0 && len(p.audioBuffer) == 0 {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	select {
	case <-p.drained:
	case <-cancel:
	}
}

// Flush 清空播放缓冲区，用于打断当前语音
func (p *StreamPlayer) Flush() {
	p.mu.Lock()
	p.internalBuffer = p.internalBuffer[:0]
	p.draining = false
	p.mu.Unlock()

	for {
		select {
		case <-p.audioBuffer:
		default:
			return
		}
	}
}

// Close 关闭播放器并释放资源
func (p *StreamPlayer) Close() {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
