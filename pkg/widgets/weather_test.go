package widgets

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeatherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "52.5200", r.URL.Query().Get("latitude"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"current":{"temperature_2m":18.4,"weather_code":61,"wind_speed_10m":12.0}}`)
	}))
	defer srv.Close()

	client := NewWeatherClient(WeatherConfig{
		BaseURL:   srv.URL,
		Latitude:  52.52,
		Longitude: 13.405,
	})

	report, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18.4, report.Temperature)
	assert.Equal(t, 12.0, report.WindSpeed)
	assert.Equal(t, "rain", report.Description)
	assert.False(t, report.FetchedAt.IsZero())
}

func TestWeatherFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWeatherClient(WeatherConfig{BaseURL: srv.URL})
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDescribeWeatherCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{0, "clear sky"},
		{2, "partly cloudy"},
		{48, "foggy"},
		{53, "drizzle"},
		{65, "rain"},
		{73, "snow"},
		{81, "rain showers"},
		{96, "thunderstorm"},
		{40, "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DescribeWeatherCode(c.code), "code %d", c.code)
	}
}
