package widgets

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WeatherConfig 天气组件配置
type WeatherConfig struct {
	BaseURL   string // 默认 Open-Meteo 公共端点
	Latitude  float64
	Longitude float64
	Timeout   time.Duration
}

// WeatherReport 一次天气快照
type WeatherReport struct {
	Temperature float64   `json:"temperature"` // 摄氏度
	WindSpeed   float64   `json:"windSpeed"`   // km/h
	Code        int       `json:"code"`        // WMO 天气代码
	Description string    `json:"description"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// WeatherClient Open-Meteo 天气客户端
type WeatherClient struct {
	cfg    WeatherConfig
	client *resty.Client
}

// NewWeatherClient 创建天气客户端
func NewWeatherClient(cfg WeatherConfig) *WeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.open-meteo.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	return &WeatherClient{cfg: cfg, client: client}
}

type openMeteoResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Fetch 拉取当前天气
func (w *WeatherClient) Fetch(ctx context.Context) (*WeatherReport, error) {
	var body openMeteoResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  fmt.Sprintf("%.4f", w.cfg.Latitude),
			"longitude": fmt.Sprintf("%.4f", w.cfg.Longitude),
			"current":   "temperature_2m,weather_code,wind_speed_10m",
		}).
		SetResult(&body).
		Get("/v1/forecast")
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("weather request: status %d", resp.StatusCode())
	}

	return &WeatherReport{
		Temperature: body.Current.Temperature,
		WindSpeed:   body.Current.WindSpeed,
		Code:        body.Current.WeatherCode,
		Description: DescribeWeatherCode(body.Current.WeatherCode),
		FetchedAt:   time.Now(),
	}, nil
}

// DescribeWeatherCode 把 WMO 天气代码翻译成口语描述
func DescribeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code >= 1 && code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "foggy"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
