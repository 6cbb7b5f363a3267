package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivica-app/Vivica/pkg/events"
	"github.com/vivica-app/Vivica/pkg/recognizer"
)

type fakeRecognizer struct {
	mu         sync.Mutex
	ev         recognizer.Events
	active     bool
	startCalls int
	startErr   error
	autoEnd    bool
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{autoEnd: true}
}

func (f *fakeRecognizer) Init(ev recognizer.Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ev = ev
}

func (f *fakeRecognizer) Vendor() string { return "fake" }

func (f *fakeRecognizer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		return recognizer.ErrAlreadyStarted
	}
	f.active = true
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return nil
	}
	f.active = false
	end := f.ev.OnEnd
	auto := f.autoEnd
	f.mu.Unlock()
	if auto && end != nil {
		go end()
	}
	return nil
}

func (f *fakeRecognizer) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRecognizer) Close() error { return f.Stop() }

func (f *fakeRecognizer) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func (f *fakeRecognizer) interim(text string) {
	f.mu.Lock()
	cb := f.ev.OnInterim
	f.mu.Unlock()
	cb(text)
}

func (f *fakeRecognizer) final(text string) {
	f.mu.Lock()
	cb := f.ev.OnFinal
	f.mu.Unlock()
	cb(text, "dlg-1")
}

// fail 模拟识别出错后本轮结束的完整序列
func (f *fakeRecognizer) fail(err error, recoverable bool) {
	f.mu.Lock()
	f.active = false
	onErr := f.ev.OnError
	onEnd := f.ev.OnEnd
	f.mu.Unlock()
	onErr(err, recoverable)
	onEnd()
}

func (f *fakeRecognizer) end() {
	f.mu.Lock()
	f.active = false
	cb := f.ev.OnEnd
	f.mu.Unlock()
	cb()
}

type fakeSpeaker struct {
	rec *fakeRecognizer

	mu               sync.Mutex
	spoken           []string
	recActiveAtSpeak []bool
	speakErr         error
	blockc           chan struct{}
	cancelc          chan struct{}
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	if s.rec != nil {
		s.recActiveAtSpeak = append(s.recActiveAtSpeak, s.rec.Active())
	}
	if s.cancelc != nil {
		close(s.cancelc)
	}
	cancel := make(chan struct{})
	s.cancelc = cancel
	block := s.blockc
	failWith := s.speakErr
	s.mu.Unlock()

	if block == nil {
		return failWith
	}
	select {
	case <-block:
		return nil
	case <-cancel:
		return ErrCanceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelc != nil {
		close(s.cancelc)
		s.cancelc = nil
	}
}

func (s *fakeSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

type sessionFixture struct {
	ctrl *Controller
	rec  *fakeRecognizer
	spk  *fakeSpeaker
	bus  *events.EventBus
}

func newSession(t *testing.T, mutate func(*Config, *Deps)) *sessionFixture {
	t.Helper()
	rec := newFakeRecognizer()
	spk := &fakeSpeaker{rec: rec}
	bus := events.NewEventBus()

	cfg := DefaultConfig()
	cfg.SilenceTimeout = time.Minute
	deps := Deps{
		Recognizer: rec,
		Speaker:    spk,
		Bus:        bus,
		Capability: recognizer.CapabilitySupported,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	ctrl := NewController(cfg, deps)
	t.Cleanup(func() { _ = ctrl.Close() })
	return &sessionFixture{ctrl: ctrl, rec: rec, spk: spk, bus: bus}
}

func waitState(t *testing.T, c *Controller, want SessionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, c.State())
}

// collectBusEvents 线程安全地收集某一类型的事件
func collectBusEvents(bus *events.EventBus, eventType string) func() []events.Event {
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(eventType, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]events.Event, len(got))
		copy(out, got)
		return out
	}
}

func TestStartStopLifecycle(t *testing.T) {
	fx := newSession(t, nil)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)
	assert.True(t, fx.rec.Active())
	assert.Equal(t, 1, fx.rec.starts())

	// 重复 Start 是空操作
	require.NoError(t, fx.ctrl.Start())
	assert.Equal(t, 1, fx.rec.starts())

	fx.ctrl.Stop()
	waitState(t, fx.ctrl, StateIdle)
	assert.False(t, fx.rec.Active())

	// 重复 Stop 是空操作
	fx.ctrl.Stop()
	waitState(t, fx.ctrl, StateIdle)
}

func TestSpeakStopsRecognitionBeforeSynthesis(t *testing.T) {
	fx := newSession(t, nil)
	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	require.NoError(t, fx.ctrl.Speak(context.Background(), "hello"))

	fx.spk.mu.Lock()
	recActive := fx.spk.recActiveAtSpeak
	fx.spk.mu.Unlock()
	require.Len(t, recActive, 1)
	assert.False(t, recActive[0], "synthesis started while recognition was active")

	// 播完后自动回到聆听
	waitState(t, fx.ctrl, StateListening)
	assert.Equal(t, 2, fx.rec.starts())
}

func TestFinalTranscriptPublishedOnce(t *testing.T) {
	fx := newSession(t, nil)
	finals := collectBusEvents(fx.bus, events.TypeFinalResult)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.interim("hel")
	fx.rec.interim("hello")
	fx.rec.final("hello vivica")
	waitState(t, fx.ctrl, StateProcessing)

	got := finals()
	require.Len(t, got, 1)
	assert.Equal(t, "hello vivica", got[0].Data["text"])
	assert.Equal(t, "dlg-1", got[0].Data["dialog_id"])
}

func TestFinalTranscriptStopsRecognizer(t *testing.T) {
	fx := newSession(t, nil)
	finals := collectBusEvents(fx.bus, events.TypeFinalResult)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.final("first utterance")
	waitState(t, fx.ctrl, StateProcessing)

	// 拿到最终结果后识别必须停止，麦克风不再保持打开
	require.Eventually(t, func() bool {
		return !fx.rec.Active()
	}, 2*time.Second, 5*time.Millisecond, "recognizer kept running after final transcript")

	// 迟到的最终结果不再发布，也不触发新一轮聆听
	fx.rec.final("second utterance")
	time.Sleep(50 * time.Millisecond)

	got := finals()
	require.Len(t, got, 1)
	assert.Equal(t, "first utterance", got[0].Data["text"])
	assert.Equal(t, StateProcessing, fx.ctrl.State())
	assert.Equal(t, 1, fx.rec.starts())
}

func TestInterimResultsSuppressedByConfig(t *testing.T) {
	fx := newSession(t, func(cfg *Config, _ *Deps) {
		cfg.InterimResults = false
	})
	interims := collectBusEvents(fx.bus, events.TypeInterimResult)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.interim("hel")
	fx.rec.final("hello")
	waitState(t, fx.ctrl, StateProcessing)

	assert.Empty(t, interims())
}

func TestSilenceTimeoutStopsListening(t *testing.T) {
	fx := newSession(t, func(cfg *Config, _ *Deps) {
		cfg.SilenceTimeout = 30 * time.Millisecond
	})

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	// 静默超时结束聆听，回到空闲且不重启
	waitState(t, fx.ctrl, StateIdle)
	assert.False(t, fx.rec.Active())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.rec.starts())
}

func TestRestartBudgetBounded(t *testing.T) {
	fx := newSession(t, func(cfg *Config, _ *Deps) {
		cfg.MaxRestarts = 2
		cfg.MaxErrorRetries = 0
	})
	fx.rec.autoEnd = false
	errs := collectBusEvents(fx.bus, events.TypeSessionError)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	// 识别一轮轮意外结束，重启次数受预算限制
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return fx.rec.Active() || fx.ctrl.State() == StateError
		}, 2*time.Second, 5*time.Millisecond)
		if fx.ctrl.State() == StateError {
			break
		}
		fx.rec.end()
	}

	waitState(t, fx.ctrl, StateError)
	// 首次启动 + 不超过预算的重启次数
	assert.Equal(t, 3, fx.rec.starts())

	got := errs()
	require.NotEmpty(t, got)
	assert.Equal(t, "transient", got[len(got)-1].Data["kind"])
}

func TestZombieRestartSuppressed(t *testing.T) {
	fx := newSession(t, nil)
	fx.rec.autoEnd = false

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.ctrl.Stop()
	waitState(t, fx.ctrl, StateIdle)

	// 会话停止后才送达的识别结束事件不触发重启
	fx.rec.end()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.rec.starts())
	assert.Equal(t, StateIdle, fx.ctrl.State())
}

func TestUnsupportedReportedOnce(t *testing.T) {
	fx := newSession(t, func(_ *Config, deps *Deps) {
		deps.Capability = recognizer.CapabilityUnsupported
	})
	errs := collectBusEvents(fx.bus, events.TypeSessionError)

	err := fx.ctrl.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, recognizer.ErrUnsupported))
	assert.Equal(t, StateIdle, fx.ctrl.State())

	// 再次 Start 仍失败，但不重复上报、不尝试初始化识别器
	require.Error(t, fx.ctrl.Start())

	got := errs()
	require.Len(t, got, 1)
	assert.Equal(t, "unsupported", got[0].Data["kind"])
	assert.Equal(t, 0, fx.rec.starts())
}

func TestSpeakInterruptedByNewSpeak(t *testing.T) {
	fx := newSession(t, nil)
	fx.spk.blockc = make(chan struct{})

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- fx.ctrl.Speak(context.Background(), "first")
	}()
	waitState(t, fx.ctrl, StateSpeaking)

	secondErr := make(chan error, 1)
	go func() {
		secondErr <- fx.ctrl.Speak(context.Background(), "second")
	}()

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, ErrCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("first Speak was not interrupted")
	}

	close(fx.spk.blockc)
	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second Speak did not finish")
	}
	assert.Equal(t, []string{"first", "second"}, fx.spk.texts())
}

func TestStopCancelsSpeak(t *testing.T) {
	fx := newSession(t, nil)
	fx.spk.blockc = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- fx.ctrl.Speak(context.Background(), "interrupt me")
	}()
	waitState(t, fx.ctrl, StateSpeaking)

	fx.ctrl.Stop()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after Stop")
	}
	waitState(t, fx.ctrl, StateIdle)
}

func TestRecoverableErrorRetriesAfterWait(t *testing.T) {
	fx := newSession(t, func(cfg *Config, _ *Deps) {
		cfg.ErrorRetryWait = 30 * time.Millisecond
	})
	errs := collectBusEvents(fx.bus, events.TypeSessionError)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.fail(errors.New("websocket: connection reset"), true)
	waitState(t, fx.ctrl, StateError)

	// 等待重试间隔后自动回到聆听
	require.Eventually(t, func() bool {
		return fx.rec.starts() == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, fx.ctrl, StateListening)

	got := errs()
	require.Len(t, got, 1)
	assert.Equal(t, "transient", got[0].Data["kind"])
}

func TestErrorRetryBudgetBounded(t *testing.T) {
	fx := newSession(t, func(cfg *Config, _ *Deps) {
		cfg.ErrorRetryWait = 20 * time.Millisecond
		cfg.MaxErrorRetries = 1
	})

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.fail(errors.New("read timeout"), true)
	waitState(t, fx.ctrl, StateError)

	// 一次自动重试
	require.Eventually(t, func() bool {
		return fx.rec.starts() == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, fx.ctrl, StateListening)

	// 再次出错后重试额度用尽，停在错误状态等待人工干预
	fx.rec.fail(errors.New("read timeout"), true)
	waitState(t, fx.ctrl, StateError)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, fx.rec.starts())
	assert.Equal(t, StateError, fx.ctrl.State())
}

func TestNonRecoverableErrorEntersErrorState(t *testing.T) {
	fx := newSession(t, nil)
	errs := collectBusEvents(fx.bus, events.TypeSessionError)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.fail(errors.New("authentication failed"), false)
	waitState(t, fx.ctrl, StateError)

	// 额度、认证类错误按 fatal 上报，不伪装成权限问题
	got := errs()
	require.Len(t, got, 1)
	assert.Equal(t, "fatal", got[0].Data["kind"])

	// 不可恢复错误不自动重启
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.rec.starts())
}

func TestPermissionDeniedErrorClassified(t *testing.T) {
	fx := newSession(t, nil)
	errs := collectBusEvents(fx.bus, events.TypeSessionError)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.rec.fail(errors.New("microphone permission denied"), false)
	waitState(t, fx.ctrl, StateError)

	got := errs()
	require.Len(t, got, 1)
	assert.Equal(t, "permission_denied", got[0].Data["kind"])
}

func TestBlockedSuppressesRestart(t *testing.T) {
	fx := newSession(t, nil)
	fx.rec.autoEnd = false

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	fx.ctrl.SetBlocked(true)
	// 屏蔽期间识别结束不触发重启
	fx.rec.end()
	waitState(t, fx.ctrl, StateIdle)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.rec.starts())

	// 解除屏蔽后恢复聆听
	fx.ctrl.SetBlocked(false)
	waitState(t, fx.ctrl, StateListening)
	assert.Equal(t, 2, fx.rec.starts())
}

func TestSynthesisErrorGoesIdle(t *testing.T) {
	fx := newSession(t, nil)
	fx.spk.speakErr = errors.New("audio device lost")
	errs := collectBusEvents(fx.bus, events.TypeSessionError)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	err := fx.ctrl.Speak(context.Background(), "doomed")
	require.Error(t, err)

	waitState(t, fx.ctrl, StateIdle)
	require.Eventually(t, func() bool {
		return len(errs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "synthesis", errs()[0].Data["kind"])

	// 合成失败后不自动重启识别
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.rec.starts())
}

func TestUpdateConfigTakesEffect(t *testing.T) {
	fx := newSession(t, func(cfg *Config, _ *Deps) {
		cfg.SilenceTimeout = time.Hour
	})
	interims := collectBusEvents(fx.bus, events.TypeInterimResult)

	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	off := false
	fx.ctrl.UpdateConfig(ConfigPatch{InterimResults: &off})
	// 等补丁被事件循环消费
	time.Sleep(20 * time.Millisecond)

	fx.rec.interim("should be dropped")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, interims())
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	fx := newSession(t, nil)
	require.NoError(t, fx.ctrl.Start())
	waitState(t, fx.ctrl, StateListening)

	require.NoError(t, fx.ctrl.Close())
	assert.ErrorIs(t, fx.ctrl.Speak(context.Background(), "too late"), ErrClosed)
	assert.ErrorIs(t, fx.ctrl.Start(), ErrClosed)
}
