package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vivica-app/Vivica/pkg/audio"
	"github.com/vivica-app/Vivica/pkg/events"
	"github.com/vivica-app/Vivica/pkg/logger"
	"github.com/vivica-app/Vivica/pkg/recognizer"
	"github.com/vivica-app/Vivica/pkg/synthesizer"
)

var (
	// ErrCanceled 朗读被新的朗读或停止操作取消
	ErrCanceled = synthesizer.ErrCanceled
	// ErrClosed 控制器已关闭
	ErrClosed = errors.New("voice: controller closed")
)

const eventSource = "voice.controller"

// Speaker 语音合成播放接口，后来的调用会打断正在进行的朗读
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
}

// LevelMonitor 音量电平监视器
type LevelMonitor interface {
	Start() error
	Stop()
}

// Deps 控制器依赖
type Deps struct {
	Recognizer recognizer.Recognizer
	Speaker    Speaker
	Monitor    LevelMonitor // 可选
	Bus        *events.EventBus
	Capability recognizer.Capability
}

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evSpeak
	evInterim
	evFinal
	evRecError
	evRecEnd
	evSynthDone
	evWatchdog
	evRetryTimer
	evSetBlocked
	evUpdateConfig
)

type ctrlEvent struct {
	kind        eventKind
	text        string
	dialogID    string
	err         error
	recoverable bool
	speakID     uint64
	retryGen    uint64
	blocked     bool
	patch       ConfigPatch
	errc        chan error
	speakCtx    context.Context
}

type speakRequest struct {
	ctx  context.Context
	text string
	errc chan error
}

// Controller 语音会话控制器
// 单goroutine事件循环串行处理识别、合成和状态转换，
// 对外方法只投递事件，不直接改状态
type Controller struct {
	deps Deps
	bus  *events.EventBus

	ch        chan ctrlEvent
	quit      chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	stateMu sync.RWMutex
	state   SessionState
}

// NewController 创建控制器并启动事件循环
func NewController(cfg Config, deps Deps) *Controller {
	bus := deps.Bus
	if bus == nil {
		bus = events.GetEventBus()
	}
	c := &Controller{
		deps:  deps,
		bus:   bus,
		ch:    make(chan ctrlEvent, 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		state: StateIdle,
	}

	if deps.Recognizer != nil {
		deps.Recognizer.Init(recognizer.Events{
			OnInterim: func(text string) {
				c.post(ctrlEvent{kind: evInterim, text: text})
			},
			OnFinal: func(text, dialogID string) {
				c.post(ctrlEvent{kind: evFinal, text: text, dialogID: dialogID})
			},
			OnError: func(err error, recoverable bool) {
				c.post(ctrlEvent{kind: evRecError, err: err, recoverable: recoverable})
			},
			OnEnd: func() {
				c.post(ctrlEvent{kind: evRecEnd})
			},
		})
	}

	go c.run(cfg)
	return c
}

// State 当前会话状态
func (c *Controller) State() SessionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Start 开启语音会话并开始聆听，会话已开启时为空操作
func (c *Controller) Start() error {
	errc := make(chan error, 1)
	if !c.post(ctrlEvent{kind: evStart, errc: errc}) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Stop 结束语音会话，停止识别并打断正在进行的朗读，可重复调用
func (c *Controller) Stop() {
	c.post(ctrlEvent{kind: evStop})
}

// Speak 朗读一段文本，阻塞直到播放完成或被打断
// 识别完全停止之后合成才会开始；被新的 Speak 或 Stop 打断时返回 ErrCanceled
func (c *Controller) Speak(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	errc := make(chan error, 1)
	if !c.post(ctrlEvent{kind: evSpeak, text: text, errc: errc, speakCtx: ctx}) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// SetBlocked 设置屏蔽标志，屏蔽期间不进行任何自动重启
func (c *Controller) SetBlocked(blocked bool) {
	c.post(ctrlEvent{kind: evSetBlocked, blocked: blocked})
}

// UpdateConfig 在会话运行期间增量更新配置
func (c *Controller) UpdateConfig(patch ConfigPatch) {
	c.post(ctrlEvent{kind: evUpdateConfig, patch: patch})
}

// Close 关闭控制器并释放资源，之后所有方法返回 ErrClosed
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
	return nil
}

func (c *Controller) post(ev ctrlEvent) bool {
	select {
	case c.ch <- ev:
		return true
	case <-c.quit:
		return false
	}
}

// loopState 事件循环私有状态，只被 run goroutine 访问
type loopState struct {
	cfg Config

	sessionActive bool
	stoppedByUser bool
	blocked       bool
	recRunning    bool

	restarts     int
	errorRetries int
	retryGen     uint64

	speakSeq       uint64
	currentSpeakID uint64
	pending        *speakRequest

	watchdog            *SilenceWatchdog
	unsupportedReported bool
}

func (c *Controller) run(cfg Config) {
	defer close(c.done)

	ls := &loopState{cfg: cfg}
	ls.watchdog = NewSilenceWatchdog(cfg.SilenceTimeout, func() {
		c.post(ctrlEvent{kind: evWatchdog})
	})

	for {
		select {
		case ev := <-c.ch:
			c.handle(ls, ev)
		case <-c.quit:
			c.shutdown(ls)
			return
		}
	}
}

func (c *Controller) shutdown(ls *loopState) {
	ls.watchdog.Cancel()
	if ls.pending != nil {
		ls.pending.errc <- ErrClosed
		ls.pending = nil
	}
	if c.deps.Speaker != nil {
		c.deps.Speaker.Cancel()
	}
	if c.deps.Monitor != nil {
		c.deps.Monitor.Stop()
	}
	if c.deps.Recognizer != nil {
		if err := c.deps.Recognizer.Stop(); err != nil {
			logger.Warn("Failed to stop recognizer on close", zap.Error(err))
		}
	}
	c.setState(StateIdle)
}

func (c *Controller) handle(ls *loopState, ev ctrlEvent) {
	switch ev.kind {
	case evStart:
		c.handleStart(ls, ev)
	case evStop:
		c.handleStop(ls)
	case evSpeak:
		c.handleSpeak(ls, ev)
	case evInterim:
		c.handleInterim(ls, ev)
	case evFinal:
		c.handleFinal(ls, ev)
	case evRecError:
		c.handleRecError(ls, ev)
	case evRecEnd:
		c.handleRecEnd(ls)
	case evSynthDone:
		c.handleSynthDone(ls, ev)
	case evWatchdog:
		c.handleWatchdog(ls)
	case evRetryTimer:
		c.handleRetryTimer(ls, ev)
	case evSetBlocked:
		c.handleSetBlocked(ls, ev)
	case evUpdateConfig:
		c.handleUpdateConfig(ls, ev)
	}
}

func (c *Controller) handleStart(ls *loopState, ev ctrlEvent) {
	if ls.sessionActive {
		logger.Debug("Session already active, ignoring start")
		ev.errc <- nil
		return
	}
	ls.sessionActive = true
	ls.stoppedByUser = false
	ls.restarts = 0
	ls.errorRetries = 0
	ev.errc <- c.startListening(ls)
}

func (c *Controller) handleStop(ls *loopState) {
	ls.sessionActive = false
	ls.stoppedByUser = true
	ls.retryGen++
	ls.watchdog.Cancel()

	if ls.pending != nil {
		ls.pending.errc <- ErrCanceled
		ls.pending = nil
	}
	if c.deps.Speaker != nil {
		c.deps.Speaker.Cancel()
	}
	if c.deps.Monitor != nil {
		c.deps.Monitor.Stop()
	}
	if ls.recRunning && c.deps.Recognizer != nil {
		if err := c.deps.Recognizer.Stop(); err != nil {
			logger.Warn("Failed to stop recognizer", zap.Error(err))
		}
	}
	c.setState(StateIdle)
	logger.Info("Voice session stopped by user")
}

func (c *Controller) handleSpeak(ls *loopState, ev ctrlEvent) {
	req := &speakRequest{ctx: ev.speakCtx, text: ev.text, errc: ev.errc}

	// 新请求取代尚未开始合成的旧请求
	if ls.pending != nil {
		ls.pending.errc <- ErrCanceled
		ls.pending = nil
	}

	// 识别完全结束前不开始合成
	if ls.recRunning {
		ls.pending = req
		ls.watchdog.Cancel()
		c.setState(StateProcessing)
		if err := c.deps.Recognizer.Stop(); err != nil {
			logger.Warn("Failed to stop recognizer before speaking", zap.Error(err))
		}
		return
	}
	c.beginSynthesis(ls, req)
}

func (c *Controller) beginSynthesis(ls *loopState, req *speakRequest) {
	if c.deps.Speaker == nil {
		req.errc <- errors.New("voice: no speaker configured")
		return
	}
	ls.speakSeq++
	id := ls.speakSeq
	ls.currentSpeakID = id
	c.setState(StateSpeaking)

	go func() {
		err := c.deps.Speaker.Speak(req.ctx, req.text)
		req.errc <- err
		c.post(ctrlEvent{kind: evSynthDone, speakID: id, err: err})
	}()
}

func (c *Controller) handleSynthDone(ls *loopState, ev ctrlEvent) {
	// 只有最近一次合成的完成才推动状态转换
	if ev.speakID != ls.currentSpeakID {
		return
	}
	ls.currentSpeakID = 0

	if !ls.sessionActive || ls.stoppedByUser {
		c.setState(StateIdle)
		return
	}

	canceled := errors.Is(ev.err, ErrCanceled) ||
		errors.Is(ev.err, context.Canceled) ||
		errors.Is(ev.err, context.DeadlineExceeded)

	if ev.err != nil && !canceled {
		logger.Error("Speech synthesis failed", zap.Error(ev.err))
		c.publishError(ErrorKindSynthesis, ev.err)
		ls.sessionActive = false
		c.setState(StateIdle)
		return
	}

	if ls.blocked {
		c.setState(StateIdle)
		return
	}
	// 回复播完（或被调用方取消）后回到聆听，重启预算重新计算
	ls.restarts = 0
	if err := c.startListening(ls); err != nil {
		logger.Error("Failed to resume listening after speaking", zap.Error(err))
	}
}

func (c *Controller) handleInterim(ls *loopState, ev ctrlEvent) {
	if c.State() != StateListening {
		return
	}
	ls.watchdog.Reset()
	if !ls.cfg.InterimResults {
		return
	}
	c.bus.Publish(events.Event{
		Type:   events.TypeInterimResult,
		Data:   map[string]any{"text": ev.text},
		Source: eventSource,
	})
}

func (c *Controller) handleFinal(ls *loopState, ev ctrlEvent) {
	// 每轮聆听只交付一个最终结果，此后到下次启动前的结果全部丢弃
	if c.State() != StateListening {
		logger.Debug("Dropping final transcript outside listening",
			zap.String("state", c.State().String()))
		return
	}
	ls.watchdog.Cancel()
	ls.restarts = 0
	ls.errorRetries = 0
	// 拿到最终结果即停止识别，收尾（停监视器、不重启）走识别结束事件
	if ls.recRunning {
		if err := c.deps.Recognizer.Stop(); err != nil {
			logger.Warn("Failed to stop recognizer after final transcript", zap.Error(err))
		}
	}
	if ls.sessionActive && ls.pending == nil {
		c.setState(StateProcessing)
	}
	logger.Info("Final transcript",
		zap.String("text", ev.text),
		zap.String("dialogId", ev.dialogID))
	c.bus.Publish(events.Event{
		Type:   events.TypeFinalResult,
		Data:   map[string]any{"text": ev.text, "dialog_id": ev.dialogID},
		Source: eventSource,
	})
}

func (c *Controller) handleRecError(ls *loopState, ev ctrlEvent) {
	kind := classifyRecError(ev.err, ev.recoverable)
	logger.Warn("Recognition error",
		zap.Error(ev.err),
		zap.String("kind", kind.String()),
		zap.Bool("recoverable", ev.recoverable))

	// 平台不支持：只上报一次，会话置为不可用
	if kind == ErrorKindUnsupported {
		if !ls.unsupportedReported {
			ls.unsupportedReported = true
			c.publishError(kind, ev.err)
		}
		ls.sessionActive = false
		c.setState(StateIdle)
		return
	}

	c.publishError(kind, ev.err)
	c.enterError(ls, ev.recoverable)
}

func (c *Controller) handleRecEnd(ls *loopState) {
	ls.recRunning = false
	ls.watchdog.Cancel()
	if c.deps.Monitor != nil {
		c.deps.Monitor.Stop()
	}

	if ls.pending != nil {
		req := ls.pending
		ls.pending = nil
		c.beginSynthesis(ls, req)
		return
	}

	if !ls.sessionActive || ls.stoppedByUser || ls.blocked {
		// 会话已结束或被屏蔽，不做僵尸重启
		if c.State() == StateListening {
			c.setState(StateIdle)
		}
		return
	}

	// 识别在聆听中意外结束（非出错、非超时）时有界自动重启
	if c.State() == StateListening {
		c.attemptRestart(ls)
	}
}

// handleWatchdog 静默超时结束本次聆听，回到空闲
func (c *Controller) handleWatchdog(ls *loopState) {
	if !ls.recRunning || !ls.sessionActive || c.State() != StateListening {
		return
	}
	logger.Info("Silence timeout, stopping listening",
		zap.Duration("timeout", ls.cfg.SilenceTimeout))
	ls.sessionActive = false
	if err := c.deps.Recognizer.Stop(); err != nil {
		logger.Warn("Failed to stop recognizer on silence timeout", zap.Error(err))
	}
	if c.deps.Monitor != nil {
		c.deps.Monitor.Stop()
	}
	c.setState(StateIdle)
}

func (c *Controller) handleRetryTimer(ls *loopState, ev ctrlEvent) {
	if ev.retryGen != ls.retryGen {
		return
	}
	if !ls.sessionActive || ls.stoppedByUser || ls.blocked || c.State() != StateError {
		return
	}
	logger.Info("Retrying voice session after error",
		zap.Int("attempt", ls.errorRetries))
	ls.restarts = 0
	if err := c.startListening(ls); err != nil {
		logger.Error("Retry failed", zap.Error(err))
	}
}

func (c *Controller) handleSetBlocked(ls *loopState, ev ctrlEvent) {
	if ls.blocked == ev.blocked {
		return
	}
	ls.blocked = ev.blocked
	logger.Debug("Session blocked flag changed", zap.Bool("blocked", ls.blocked))

	if !ls.blocked && ls.sessionActive && !ls.recRunning &&
		ls.pending == nil && ls.currentSpeakID == 0 && c.State() != StateError {
		if err := c.startListening(ls); err != nil {
			logger.Error("Failed to resume listening after unblock", zap.Error(err))
		}
	}
}

func (c *Controller) handleUpdateConfig(ls *loopState, ev ctrlEvent) {
	old := ls.cfg
	ls.cfg = ls.cfg.Apply(ev.patch)
	if ls.cfg.SilenceTimeout != old.SilenceTimeout {
		pending := ls.watchdog.Pending()
		ls.watchdog.Cancel()
		ls.watchdog = NewSilenceWatchdog(ls.cfg.SilenceTimeout, func() {
			c.post(ctrlEvent{kind: evWatchdog})
		})
		if pending {
			ls.watchdog.Reset()
		}
	}
	logger.Debug("Session config updated",
		zap.Duration("silenceTimeout", ls.cfg.SilenceTimeout),
		zap.Int("maxRestarts", ls.cfg.MaxRestarts))
}

func (c *Controller) startListening(ls *loopState) error {
	if c.deps.Capability == recognizer.CapabilityUnsupported {
		err := recognizer.ErrUnsupported
		if !ls.unsupportedReported {
			ls.unsupportedReported = true
			c.publishError(ErrorKindUnsupported, err)
		}
		ls.sessionActive = false
		c.setState(StateIdle)
		return err
	}
	if ls.recRunning {
		return nil
	}

	err := c.deps.Recognizer.Start()
	if err != nil {
		if errors.Is(err, recognizer.ErrAlreadyStarted) {
			ls.recRunning = true
			return nil
		}
		kind := classifyRecError(err, recognizer.IsRecoverable(err))
		logger.Error("Failed to start recognition",
			zap.Error(err),
			zap.String("kind", kind.String()))
		c.publishError(kind, err)
		c.enterError(ls, kind == ErrorKindTransient)
		return err
	}

	ls.recRunning = true
	if c.deps.Monitor != nil {
		if merr := c.deps.Monitor.Start(); merr != nil {
			logger.Warn("Failed to start level monitor", zap.Error(merr))
		}
	}
	ls.watchdog.Reset()
	c.setState(StateListening)
	return nil
}

func (c *Controller) attemptRestart(ls *loopState) {
	if ls.restarts >= ls.cfg.MaxRestarts {
		logger.Warn("Recognition restart budget exhausted",
			zap.Int("maxRestarts", ls.cfg.MaxRestarts))
		c.publishError(ErrorKindTransient, errors.New("voice: recognition restart limit reached"))
		c.enterError(ls, true)
		return
	}
	ls.restarts++
	logger.Debug("Restarting recognition",
		zap.Int("restart", ls.restarts),
		zap.Int("maxRestarts", ls.cfg.MaxRestarts))
	if err := c.startListening(ls); err != nil {
		logger.Error("Recognition restart failed", zap.Error(err))
	}
}

// enterError 进入错误状态，retryable 时安排一次有界自动重试
func (c *Controller) enterError(ls *loopState, retryable bool) {
	c.setState(StateError)
	if !retryable || !ls.sessionActive {
		return
	}
	if ls.errorRetries >= ls.cfg.MaxErrorRetries {
		logger.Warn("Error retry budget exhausted, manual restart required",
			zap.Int("maxErrorRetries", ls.cfg.MaxErrorRetries))
		return
	}
	ls.errorRetries++
	ls.retryGen++
	gen := ls.retryGen
	time.AfterFunc(ls.cfg.ErrorRetryWait, func() {
		c.post(ctrlEvent{kind: evRetryTimer, retryGen: gen})
	})
}

func (c *Controller) setState(next SessionState) {
	c.stateMu.Lock()
	prev := c.state
	if prev == next {
		c.stateMu.Unlock()
		return
	}
	c.state = next
	c.stateMu.Unlock()

	logger.Debug("Session state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	c.bus.Publish(events.Event{
		Type:   events.TypeStateChanged,
		Data:   map[string]any{"from": prev.String(), "to": next.String()},
		Source: eventSource,
	})
}

func (c *Controller) publishError(kind ErrorKind, err error) {
	data := map[string]any{"kind": kind.String()}
	if err != nil {
		data["error"] = err.Error()
	}
	c.bus.Publish(events.Event{
		Type:   events.TypeSessionError,
		Data:   data,
		Source: eventSource,
	})
}

func classifyRecError(err error, recoverable bool) ErrorKind {
	switch {
	case errors.Is(err, recognizer.ErrUnsupported):
		return ErrorKindUnsupported
	case errors.Is(err, audio.ErrPermissionDenied):
		return ErrorKindPermissionDenied
	case !recoverable:
		if err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "permission denied") || strings.Contains(msg, "not-allowed") {
				return ErrorKindPermissionDenied
			}
		}
		return ErrorKindFatal
	default:
		return ErrorKindTransient
	}
}
