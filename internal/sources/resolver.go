package sources

import (
	"net/url"
	"strconv"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// Default upstream endpoints.
const (
	DefaultOpenWeatherURL  = "https://api.openweathermap.org/data/2.5/weather"
	DefaultOpenMeteoURL    = "https://api.open-meteo.com/v1/forecast"
	DefaultWeatherStackURL = "http://api.weatherstack.com/current"
)

// Config holds upstream base URLs and credentials.
type Config struct {
	OpenWeatherURL     string
	OpenWeatherAPIKey  string
	OpenMeteoURL       string
	WeatherStackURL    string
	WeatherStackAPIKey string
}

// Resolver turns coordinates into the ordered list of sources to query.
type Resolver struct {
	cfg Config
}

// NewResolver fills empty URLs with the defaults.
func NewResolver(cfg Config) *Resolver {
	if cfg.OpenWeatherURL == "" {
		cfg.OpenWeatherURL = DefaultOpenWeatherURL
	}
	if cfg.OpenMeteoURL == "" {
		cfg.OpenMeteoURL = DefaultOpenMeteoURL
	}
	if cfg.WeatherStackURL == "" {
		cfg.WeatherStackURL = DefaultWeatherStackURL
	}
	return &Resolver{cfg: cfg}
}

// Resolve returns sources in a fixed order: OpenWeatherMap, OpenMeteo, WeatherStack.
// Keyed sources are included only when their key is configured; OpenMeteo is always included.
func (r *Resolver) Resolve(latitude, longitude float64) []models.SourceRequest {
	lat := formatCoord(latitude)
	lon := formatCoord(longitude)

	var out []models.SourceRequest
	if r.cfg.OpenWeatherAPIKey != "" {
		out = append(out, models.SourceRequest{
			SourceName: OpenWeatherMap,
			Endpoint: withQuery(r.cfg.OpenWeatherURL, url.Values{
				"lat":   {lat},
				"lon":   {lon},
				"appid": {r.cfg.OpenWeatherAPIKey},
				"units": {"metric"},
			}),
		})
	}
	out = append(out, models.SourceRequest{
		SourceName: OpenMeteo,
		Endpoint: withQuery(r.cfg.OpenMeteoURL, url.Values{
			"latitude":        {lat},
			"longitude":       {lon},
			"current_weather": {"true"},
		}),
	})
	if r.cfg.WeatherStackAPIKey != "" {
		out = append(out, models.SourceRequest{
			SourceName: WeatherStack,
			Endpoint: withQuery(r.cfg.WeatherStackURL, url.Values{
				"access_key": {r.cfg.WeatherStackAPIKey},
				"query":      {lat + "," + lon},
			}),
		})
	}
	return out
}

// Names lists the sources Resolve would return.
func (r *Resolver) Names() []string {
	var names []string
	for _, s := range r.Resolve(0, 0) {
		names = append(names, s.SourceName)
	}
	return names
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// withQuery merges params into base. Encode sorts keys, so the endpoint string
// for one location is stable across calls.
func withQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + params.Encode()
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}
