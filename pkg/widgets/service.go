package widgets

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vivica-app/Vivica/pkg/events"
	"github.com/vivica-app/Vivica/pkg/logger"
)

const (
	cacheKeyWeather = "widget.weather"
	cacheKeyNews    = "widget.news"

	// 缓存寿命比刷新周期长，刷新失败时旧数据仍然可用
	cacheTTL = 2 * time.Hour
)

// WeatherFetcher 天气数据源
type WeatherFetcher interface {
	Fetch(ctx context.Context) (*WeatherReport, error)
}

// NewsFetcher 新闻数据源
type NewsFetcher interface {
	Fetch(ctx context.Context, limit int) ([]Headline, error)
}

// Service 环境组件服务：定时刷新天气和新闻并缓存结果
type Service struct {
	weather       WeatherFetcher
	news          NewsFetcher
	cache         *gocache.Cache
	bus           *events.EventBus
	cron          *cron.Cron
	headlineLimit int
}

// NewService 创建组件服务，weather/news 允许为 nil（对应组件禁用）
func NewService(weather WeatherFetcher, news NewsFetcher, bus *events.EventBus) *Service {
	if bus == nil {
		bus = events.GetEventBus()
	}
	return &Service{
		weather:       weather,
		news:          news,
		cache:         gocache.New(cacheTTL, 10*time.Minute),
		bus:           bus,
		headlineLimit: 5,
	}
}

// Refresh 立即刷新全部组件，单个组件失败不阻断其它组件
func (s *Service) Refresh(ctx context.Context) error {
	var firstErr error

	if s.weather != nil {
		report, err := s.weather.Fetch(ctx)
		if err != nil {
			firstErr = err
			logger.Warn("Weather refresh failed", zap.Error(err))
		} else {
			s.cache.Set(cacheKeyWeather, report, cacheTTL)
			s.bus.Publish(events.Event{
				Type:   events.TypeWidgetRefreshed,
				Data:   map[string]any{"widget": "weather"},
				Source: "widgets",
			})
		}
	}

	if s.news != nil {
		headlines, err := s.news.Fetch(ctx, s.headlineLimit)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn("News refresh failed", zap.Error(err))
		} else if len(headlines) > 0 {
			s.cache.Set(cacheKeyNews, headlines, cacheTTL)
			s.bus.Publish(events.Event{
				Type:   events.TypeWidgetRefreshed,
				Data:   map[string]any{"widget": "news", "count": len(headlines)},
				Source: "widgets",
			})
		}
	}
	return firstErr
}

// StartSchedule 按 cron 表达式定期刷新（如 "@every 30m"）
func (s *Service) StartSchedule(spec string) error {
	if s.cron != nil {
		return fmt.Errorf("widgets: schedule already started")
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			logger.Warn("Scheduled widget refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("widgets: bad schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	logger.Info("Widget refresh scheduled", zap.String("schedule", spec))
	return nil
}

// Stop 停止定时刷新
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Weather 最近一次成功的天气快照
func (s *Service) Weather() (*WeatherReport, bool) {
	v, ok := s.cache.Get(cacheKeyWeather)
	if !ok {
		return nil, false
	}
	report, ok := v.(*WeatherReport)
	return report, ok
}

// Headlines 最近一次成功的新闻标题
func (s *Service) Headlines() ([]Headline, bool) {
	v, ok := s.cache.Get(cacheKeyNews)
	if !ok {
		return nil, false
	}
	headlines, ok := v.([]Headline)
	return headlines, ok
}

// Summary 把缓存的组件内容拼成一段可注入系统提示词的环境描述
func (s *Service) Summary() string {
	var b strings.Builder

	if report, ok := s.Weather(); ok {
		fmt.Fprintf(&b, "Current weather: %s, %.1f°C, wind %.0f km/h.",
			report.Description, report.Temperature, report.WindSpeed)
	}
	if headlines, ok := s.Headlines(); ok && len(headlines) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent headlines:")
		for _, h := range headlines {
			b.WriteString("\n- ")
			b.WriteString(h.Title)
		}
	}
	return b.String()
}
