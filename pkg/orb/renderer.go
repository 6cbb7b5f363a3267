package orb

import (
	"math"
	"time"

	"github.com/vivica-app/Vivica/pkg/voice"
)

// StateTheme 单个会话状态的视觉参数，纯配置，可整体替换
type StateTheme struct {
	Color        string  // 当前基色
	TargetColor  string  // 呼吸渐变的目标色
	PulseSpeed   float64 // 呼吸频率（Hz）
	Jitter       float64 // 抖动幅度 [0,1]
	ParticleRate float64 // 粒子密度 [0,1]
}

// DefaultThemes 默认状态配色表
var DefaultThemes = map[voice.SessionState]StateTheme{
	voice.StateIdle:       {Color: "#3b5bdb", TargetColor: "#22314f", PulseSpeed: 0.25, Jitter: 0.00, ParticleRate: 0.05},
	voice.StateListening:  {Color: "#00ff9f", TargetColor: "#0a7d52", PulseSpeed: 0.80, Jitter: 0.35, ParticleRate: 0.60},
	voice.StateProcessing: {Color: "#ffb340", TargetColor: "#8a5a13", PulseSpeed: 1.60, Jitter: 0.10, ParticleRate: 0.30},
	voice.StateSpeaking:   {Color: "#b57bff", TargetColor: "#5a2ea6", PulseSpeed: 1.10, Jitter: 0.25, ParticleRate: 0.45},
	voice.StateError:      {Color: "#ff5c5c", TargetColor: "#7a1f1f", PulseSpeed: 0.40, Jitter: 0.05, ParticleRate: 0.10},
}

// Particle 环绕光球的单个粒子
type Particle struct {
	Angle float64 // 弧度
	Dist  float64 // 相对半径 [1,2]
	Alpha float64 // [0,1]
}

// VisualState 某一帧的渲染参数，只读派生数据
type VisualState struct {
	State       voice.SessionState
	Color       string
	TargetColor string
	Radius      float64 // [MinRadius, MaxRadius]
	Pulse       float64 // [-1,1] 呼吸相位
	Jitter      float64
	Particles   []Particle
}

// Options 渲染器参数
type Options struct {
	Themes       map[voice.SessionState]StateTheme
	LerpFactor   float64 // 每帧向目标半径插值的比例 (0,1]
	MinRadius    float64
	MaxRadius    float64
	MaxParticles int
}

// DefaultOptions 返回默认渲染参数
func DefaultOptions() Options {
	return Options{
		Themes:       DefaultThemes,
		LerpFactor:   0.18,
		MinRadius:    2.0,
		MaxRadius:    6.0,
		MaxParticles: 12,
	}
}

// Renderer 将 (会话状态, 音量电平, 经过时间) 换算成一帧视觉参数
// 唯一的跨帧状态是半径，它向目标值平滑插值，杜绝跳变
type Renderer struct {
	opts   Options
	radius float64
}

// NewRenderer 创建渲染器
func NewRenderer(opts Options) *Renderer {
	if opts.Themes == nil {
		opts.Themes = DefaultThemes
	}
	if opts.LerpFactor <= 0 || opts.LerpFactor > 1 {
		opts.LerpFactor = DefaultOptions().LerpFactor
	}
	if opts.MaxRadius <= opts.MinRadius {
		def := DefaultOptions()
		opts.MinRadius = def.MinRadius
		opts.MaxRadius = def.MaxRadius
	}
	if opts.MaxParticles <= 0 {
		opts.MaxParticles = DefaultOptions().MaxParticles
	}
	return &Renderer{opts: opts, radius: opts.MinRadius}
}

// Radius 当前平滑后的半径
func (r *Renderer) Radius() float64 {
	return r.radius
}

// Frame 计算一帧
// level 超出 [0,1] 的输入会被截断，elapsed 是会话开始以来的时间
func (r *Renderer) Frame(state voice.SessionState, level float64, elapsed time.Duration) VisualState {
	theme, ok := r.opts.Themes[state]
	if !ok {
		theme = r.opts.Themes[voice.StateIdle]
	}
	level = clamp01(level)

	target := r.opts.MinRadius + level*(r.opts.MaxRadius-r.opts.MinRadius)
	r.radius += (target - r.radius) * r.opts.LerpFactor

	seconds := elapsed.Seconds()
	pulse := math.Sin(2 * math.Pi * theme.PulseSpeed * seconds)

	return VisualState{
		State:       state,
		Color:       theme.Color,
		TargetColor: theme.TargetColor,
		Radius:      r.radius,
		Pulse:       pulse,
		Jitter:      theme.Jitter * level,
		Particles:   particlesFor(theme, level, seconds, r.opts.MaxParticles),
	}
}

// particlesFor 由状态参数和时间确定性地生成粒子环
func particlesFor(theme StateTheme, level, seconds float64, maxParticles int) []Particle {
	count := int(math.Round(theme.ParticleRate * (0.4 + 0.6*level) * float64(maxParticles)))
	if count <= 0 {
		return nil
	}
	particles := make([]Particle, count)
	for i := range particles {
		phase := float64(i) / float64(count)
		// 每个粒子按自己的相位绕球旋转并呼吸
		particles[i] = Particle{
			Angle: 2*math.Pi*phase + seconds*(0.3+theme.PulseSpeed*0.5),
			Dist:  1.3 + 0.4*math.Sin(2*math.Pi*(phase+seconds*0.2)),
			Alpha: 0.4 + 0.6*level,
		}
	}
	return particles
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
