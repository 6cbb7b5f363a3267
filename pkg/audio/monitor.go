package audio

import (
	"sync"
	"time"

	"github.com/vivica-app/Vivica/pkg/logger"
	"go.uber.org/zap"
)

const (
	// 每次级别计算所覆盖的样本窗口
	monitorWindowSamples = 512
	// 级别回调的默认间隔
	monitorDefaultInterval = 50 * time.Millisecond
)

// Monitor 麦克风音量监视器
// 持有独立的采集设备，按固定间隔对最近的样本窗口计算归一化音量并回调。
// 监视器失败不影响语音识别，识别器使用自己的采集设备。
type Monitor struct {
	capture  *Capture
	interval time.Duration
	onLevel  func(level float64)

	mu      sync.Mutex
	window  []byte
	running bool
	done    chan struct{}
}

// NewMonitor 创建音量监视器
// onLevel 收到的级别始终在 [0,1] 区间内
func NewMonitor(config *CaptureConfig, interval time.Duration, onLevel func(level float64)) (*Monitor, error) {
	capture, err := NewCapture(config)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = monitorDefaultInterval
	}
	return &Monitor{
		capture:  capture,
		interval: interval,
		onLevel:  onLevel,
		window:   make([]byte, 0, monitorWindowSamples*2),
	}, nil
}

// Start 启动监视，设备错误原样返回（调用方决定是否降级）
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	if err := m.capture.Start(m.feed); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		logger.Warn("音量监视器启动失败", zap.Error(err))
		return err
	}

	go m.loop(done)
	return nil
}

// Stop 停止监视，可重复调用
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	m.window = m.window[:0]
	m.mu.Unlock()

	m.capture.Stop()
}

// Close 停止监视并释放设备资源
func (m *Monitor) Close() {
	m.Stop()
	m.capture.Close()
}

// feed 接收采集回调的PCM帧，只保留最近的窗口
func (m *Monitor) feed(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.window = append(m.window, pcm...)
	if max := monitorWindowSamples * 2; len(m.window) > max {
		m.window = m.window[len(m.window)-max:]
	}
}

// snapshotLevel 计算当前窗口的归一化音量
func (m *Monitor) snapshotLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NormalizedLevel(m.window)
}

func (m *Monitor) loop(done chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if m.onLevel != nil {
				m.onLevel(m.snapshotLevel())
			}
		}
	}
}
