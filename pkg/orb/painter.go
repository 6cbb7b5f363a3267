package orb

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Painter 把一帧视觉参数画成终端文本
// 纯展示层，不回写任何会话状态
type Painter struct {
	width  int
	height int
	dim    lipgloss.Style
}

// NewPainter 创建画布，宽高为字符格数
func NewPainter(width, height int) *Painter {
	if width < 16 {
		width = 16
	}
	if height < 7 {
		height = 7
	}
	return &Painter{
		width:  width,
		height: height,
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	}
}

// Paint 渲染一帧
func (p *Painter) Paint(vs VisualState) string {
	core := lipgloss.NewStyle().Foreground(lipgloss.Color(vs.Color)).Bold(true)
	halo := lipgloss.NewStyle().Foreground(lipgloss.Color(vs.TargetColor))

	cx := float64(p.width) / 2
	cy := float64(p.height) / 2
	// 终端字符高约为宽的两倍，纵向压缩保持球形
	radius := vs.Radius * (1 + 0.08*vs.Pulse)

	grid := make([][]rune, p.height)
	for y := range grid {
		grid[y] = make([]rune, p.width)
		for x := range grid[y] {
			grid[y][x] = ' '
		}
	}

	for _, pt := range vs.Particles {
		px := cx + math.Cos(pt.Angle)*radius*pt.Dist*2
		py := cy + math.Sin(pt.Angle)*radius*pt.Dist
		p.set(grid, int(px), int(py), '·')
	}

	var b strings.Builder
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			dx := (float64(x) - cx) / 2
			dy := float64(y) - cy
			d := math.Sqrt(dx*dx + dy*dy)
			switch {
			case d <= radius*0.55:
				b.WriteString(core.Render("●"))
			case d <= radius:
				b.WriteString(core.Render("▒"))
			case d <= radius*1.25:
				b.WriteString(halo.Render("░"))
			case grid[y][x] != ' ':
				b.WriteString(p.dim.Render(string(grid[y][x])))
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteRune('\n')
	}

	label := vs.State.String()
	pad := (p.width - lipgloss.Width(label)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteString(p.dim.Render(label))
	return b.String()
}

func (p *Painter) set(grid [][]rune, x, y int, r rune) {
	if y < 0 || y >= len(grid) || x < 0 || x >= len(grid[y]) {
		return
	}
	grid[y][x] = r
}
