package synthesizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu          sync.Mutex
	synthCalls  int
	voicesCalls int
	voices      []Voice
	voicesErr   error
	pcm         []byte
}

func (f *fakeService) Provider() Provider { return "fake" }
func (f *fakeService) SampleRate() int    { return 16000 }
func (f *fakeService) CacheKey(voice, text string) string {
	return "fake-" + voice + "-" + Digest(text)
}
func (f *fakeService) Voices(ctx context.Context) ([]Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voicesCalls++
	return f.voices, f.voicesErr
}
func (f *fakeService) Synthesize(ctx context.Context, voice, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthCalls++
	return f.pcm, nil
}
func (f *fakeService) Close() error { return nil }

type fakeSink struct {
	mu       sync.Mutex
	data     []byte
	flushes  int
	blocking atomic.Bool
}

func (s *fakeSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	return nil
}

func (s *fakeSink) Drain(cancel <-chan struct{}) {
	if s.blocking.Load() {
		<-cancel
	}
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *fakeSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newTestSpeaker(t *testing.T, svc *fakeService, sink *fakeSink) *Speaker {
	t.Helper()
	sp, err := NewSpeaker(svc, sink, SpeakerConfig{Locale: "en-US", CacheSize: 8})
	require.NoError(t, err)
	return sp
}

func TestSpeakPlaysThroughSink(t *testing.T) {
	svc := &fakeService{pcm: make([]byte, 10000)}
	sink := &fakeSink{}
	sp := newTestSpeaker(t, svc, sink)

	require.NoError(t, sp.Speak(context.Background(), "hello there"))
	assert.Equal(t, 10000, sink.written())
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	svc := &fakeService{pcm: []byte{1, 2}}
	sink := &fakeSink{}
	sp := newTestSpeaker(t, svc, sink)

	require.NoError(t, sp.Speak(context.Background(), "   "))
	require.NoError(t, sp.Speak(context.Background(), "🎉🎉"))
	assert.Equal(t, 0, svc.synthCalls)
	assert.Equal(t, 0, sink.written())
}

func TestSpeakUsesCache(t *testing.T) {
	svc := &fakeService{pcm: []byte{1, 2, 3, 4}}
	sink := &fakeSink{}
	sp := newTestSpeaker(t, svc, sink)

	require.NoError(t, sp.Speak(context.Background(), "same text"))
	require.NoError(t, sp.Speak(context.Background(), "same text"))

	assert.Equal(t, 1, svc.synthCalls)
	assert.Equal(t, 8, sink.written())
}

func TestSpeakLastCallWins(t *testing.T) {
	svc := &fakeService{pcm: make([]byte, 128)}
	sink := &fakeSink{}
	sink.blocking.Store(true)
	sp := newTestSpeaker(t, svc, sink)

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- sp.Speak(context.Background(), "first utterance")
	}()

	// 等第一次调用进入播放阶段
	require.Eventually(t, func() bool {
		return sink.written() > 0
	}, 2*time.Second, 10*time.Millisecond)

	sink.blocking.Store(false)
	require.NoError(t, sp.Speak(context.Background(), "second utterance"))

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, ErrCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("first Speak was not interrupted")
	}
}

func TestCancelInterruptsSpeak(t *testing.T) {
	svc := &fakeService{pcm: make([]byte, 128)}
	sink := &fakeSink{}
	sink.blocking.Store(true)
	sp := newTestSpeaker(t, svc, sink)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sp.Speak(context.Background(), "interrupt me")
	}()

	require.Eventually(t, func() bool {
		return sink.written() > 0
	}, 2*time.Second, 10*time.Millisecond)

	sp.Cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after Cancel")
	}

	// 重复 Cancel 是空操作
	sp.Cancel()
}

func TestVoiceListLoadedOnce(t *testing.T) {
	svc := &fakeService{
		pcm:    []byte{1, 2, 3, 4},
		voices: []Voice{{Name: "Samantha", Locale: "en-US"}},
	}
	sink := &fakeSink{}
	sp := newTestSpeaker(t, svc, sink)

	require.NoError(t, sp.Speak(context.Background(), "one"))
	require.NoError(t, sp.Speak(context.Background(), "two"))
	require.NoError(t, sp.Speak(context.Background(), "three"))

	assert.Equal(t, 1, svc.voicesCalls)
}

func TestSpeakSurvivesVoiceLoadFailure(t *testing.T) {
	svc := &fakeService{
		pcm:       []byte{1, 2, 3, 4},
		voicesErr: errors.New("voice service down"),
	}
	sink := &fakeSink{}
	sp := newTestSpeaker(t, svc, sink)

	// 音色加载失败时回退到提供商默认音色，不阻塞朗读
	require.NoError(t, sp.Speak(context.Background(), "still works"))
	assert.Equal(t, 4, sink.written())
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Ting-Ting", Locale: "zh-CN"},
		{Name: "Daniel", Locale: "en-GB"},
		{Name: "Samantha", Locale: "en-US", Default: true},
		{Name: "Amelie", Locale: "fr-CA"},
	}

	cases := []struct {
		name      string
		preferred string
		locale    string
		want      string
	}{
		{"preferred exact", "Daniel", "en-US", "Daniel"},
		{"preferred case insensitive", "samantha", "", "Samantha"},
		{"locale exact", "", "fr-CA", "Amelie"},
		{"language prefix", "", "en-AU", "Daniel"},
		{"fallback to default", "", "ja-JP", "Samantha"},
		{"unknown preferred falls back to locale", "Nobody", "zh-CN", "Ting-Ting"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, SelectVoice(voices, c.preferred, c.locale))
		})
	}

	assert.Equal(t, "", SelectVoice(nil, "any", "en-US"))
}
