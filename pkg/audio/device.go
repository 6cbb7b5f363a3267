package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	// ErrPermissionDenied 系统拒绝访问麦克风
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	// ErrDeviceUnavailable 没有可用的音频设备
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
	// ErrAlreadyRunning 设备已在采集中
	ErrAlreadyRunning = errors.New("audio: capture already running")
)

// CaptureConfig 采集设备配置
type CaptureConfig struct {
	// 采样率，默认 16000
	SampleRate uint32
	// 声道数，默认 1（单声道）
	Channels uint32
	// 音频格式，默认 FormatS16
	Format malgo.FormatType
	// ALSA NoMMap 设置，默认 1
	AlsaNoMMap uint32
}

// DefaultCaptureConfig 返回默认采集配置
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		SampleRate: 16000,
		Channels:   1,
		Format:     malgo.FormatS16,
		AlsaNoMMap: 1,
	}
}

// Capture 麦克风采集设备
// 每个 Capture 持有独立的 malgo 上下文，互不影响
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	config *CaptureConfig
	mu     sync.Mutex
	active bool
}

// NewCapture 创建采集设备实例
func NewCapture(config *CaptureConfig) (*Capture, error) {
	if config == nil {
		config = DefaultCaptureConfig()
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.Format == 0 {
		config.Format = malgo.FormatS16
	}
	if config.AlsaNoMMap == 0 {
		config.AlsaNoMMap = 1
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("初始化音频上下文失败: %w", classifyDeviceError(err))
	}

	return &Capture{ctx: ctx, config: config}, nil
}

// Start 启动采集，每批PCM帧通过 onData 回调交付
// 回调在设备线程上执行，不应阻塞
func (c *Capture) Start(onData func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return ErrAlreadyRunning
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = c.config.Format
	deviceConfig.Capture.Channels = c.config.Channels
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.Alsa.NoMMap = c.config.AlsaNoMMap

	onRecvFrames := func(_, pSample []byte, _ uint32) {
		if onData != nil && len(pSample) > 0 {
			onData(pSample)
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return fmt.Errorf("初始化录制设备失败: %w", classifyDeviceError(err))
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("启动录制设备失败: %w", classifyDeviceError(err))
	}

	c.device = device
	c.active = true
	return nil
}

// Stop 停止采集，未启动时为空操作
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.active = false
}

// Active 检查是否正在采集
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close 停止采集并释放上下文资源
func (c *Capture) Close() {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

// classifyDeviceError 将底层设备错误映射到包级哨兵错误
func classifyDeviceError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err.Error())
	case strings.Contains(msg, "no device") || strings.Contains(msg, "device not found") ||
		strings.Contains(msg, "no backend") || strings.Contains(msg, "failed to init"):
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, err.Error())
	default:
		return err
	}
}
