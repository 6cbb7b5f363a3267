package voice

import (
	"sync"
	"time"
)

// SilenceWatchdog 静默看门狗
// Reset 重新计时，到期触发一次 onTimeout；Cancel 后不再触发，可重复调用
type SilenceWatchdog struct {
	mu        sync.Mutex
	timeout   time.Duration
	timer     *time.Timer
	gen       uint64 // 代数，用于屏蔽被替换的旧计时器
	onTimeout func()
}

// NewSilenceWatchdog 创建看门狗，timeout 非正值时使用默认3秒
func NewSilenceWatchdog(timeout time.Duration, onTimeout func()) *SilenceWatchdog {
	if timeout <= 0 {
		timeout = 3000 * time.Millisecond
	}
	return &SilenceWatchdog{
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// Reset 重新开始计时，替换掉未到期的旧计时器
func (w *SilenceWatchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() {
		w.fire(gen)
	})
}

// Cancel 停止计时，未在计时中为空操作
func (w *SilenceWatchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}

// Pending 检查是否在计时中
func (w *SilenceWatchdog) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *SilenceWatchdog) fire(gen uint64) {
	w.mu.Lock()
	// 已被 Reset 或 Cancel 替换的旧计时器不触发
	if gen != w.gen || w.timer == nil {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	callback := w.onTimeout
	w.mu.Unlock()

	if callback != nil {
		callback()
	}
}
