package orb

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivica-app/Vivica/pkg/voice"
)

func TestRadiusSmoothingIsMonotonic(t *testing.T) {
	opts := DefaultOptions()
	r := NewRenderer(opts)

	levels := []float64{0.9, 0.9, 0.9, 0.9, 0.9}
	target := opts.MinRadius + 0.9*(opts.MaxRadius-opts.MinRadius)

	prev := r.Radius()
	for i, level := range levels {
		vs := r.Frame(voice.StateListening, level, time.Duration(i)*50*time.Millisecond)

		// 单调逼近目标，每帧步长不超过插值系数允许的幅度
		step := vs.Radius - prev
		assert.Greater(t, step, 0.0, "frame %d moved away from target", i)
		maxStep := opts.LerpFactor*(target-prev) + 1e-9
		assert.LessOrEqual(t, step, maxStep, "frame %d jumped past the interpolation factor", i)
		assert.LessOrEqual(t, vs.Radius, target+1e-9)
		prev = vs.Radius
	}
}

func TestRadiusConvergesBothDirections(t *testing.T) {
	r := NewRenderer(DefaultOptions())

	for i := 0; i < 100; i++ {
		r.Frame(voice.StateListening, 1.0, 0)
	}
	high := r.Radius()
	assert.InDelta(t, DefaultOptions().MaxRadius, high, 0.01)

	for i := 0; i < 100; i++ {
		r.Frame(voice.StateListening, 0.0, 0)
	}
	assert.InDelta(t, DefaultOptions().MinRadius, r.Radius(), 0.01)
}

func TestFrameClampsLevel(t *testing.T) {
	opts := DefaultOptions()
	r := NewRenderer(opts)

	for i := 0; i < 200; i++ {
		vs := r.Frame(voice.StateListening, 37.5, 0)
		require.LessOrEqual(t, vs.Radius, opts.MaxRadius)
	}

	r2 := NewRenderer(opts)
	for i := 0; i < 200; i++ {
		vs := r2.Frame(voice.StateListening, -3, 0)
		require.GreaterOrEqual(t, vs.Radius, opts.MinRadius-1e-9)
	}

	r3 := NewRenderer(opts)
	vs := r3.Frame(voice.StateListening, math.NaN(), 0)
	assert.False(t, math.IsNaN(vs.Radius))
}

func TestThemeLookupPerState(t *testing.T) {
	r := NewRenderer(DefaultOptions())

	listening := r.Frame(voice.StateListening, 0.5, 0)
	errored := r.Frame(voice.StateError, 0.5, 0)
	assert.NotEqual(t, listening.Color, errored.Color)

	// 未知状态回退到空闲主题
	unknown := r.Frame(voice.SessionState(42), 0.5, 0)
	assert.Equal(t, DefaultThemes[voice.StateIdle].Color, unknown.Color)
}

func TestParticlesScaleWithLevel(t *testing.T) {
	r := NewRenderer(DefaultOptions())

	quiet := r.Frame(voice.StateListening, 0.0, time.Second)
	loud := r.Frame(voice.StateListening, 1.0, time.Second)
	assert.Greater(t, len(loud.Particles), len(quiet.Particles))

	for _, pt := range loud.Particles {
		assert.GreaterOrEqual(t, pt.Alpha, 0.0)
		assert.LessOrEqual(t, pt.Alpha, 1.0)
	}
}

func TestPulseIsPureFunctionOfElapsed(t *testing.T) {
	a := NewRenderer(DefaultOptions())
	b := NewRenderer(DefaultOptions())

	va := a.Frame(voice.StateSpeaking, 0.3, 700*time.Millisecond)
	vb := b.Frame(voice.StateSpeaking, 0.3, 700*time.Millisecond)
	assert.Equal(t, va.Pulse, vb.Pulse)
	assert.Equal(t, va.Particles, vb.Particles)
}

func TestPainterOutputShape(t *testing.T) {
	r := NewRenderer(DefaultOptions())
	p := NewPainter(40, 12)

	vs := r.Frame(voice.StateListening, 0.8, time.Second)
	out := p.Paint(vs)

	lines := strings.Split(out, "\n")
	// 12行画布 + 1行状态标签
	require.Len(t, lines, 13)
	assert.Contains(t, lines[12], "listening")
	assert.Contains(t, out, "●")
}
