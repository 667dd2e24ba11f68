// Package sources adapts the upstream weather APIs into models.WeatherRecord
// and builds per-location source requests.
package sources

import (
	"errors"
	"sync"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// Source names as they appear in statistics and records.
const (
	OpenWeatherMap = "OpenWeatherMap"
	OpenMeteo      = "OpenMeteo"
	WeatherStack   = "WeatherStack"
)

// ErrMissingSection is returned when a payload lacks the section a source reports in.
var ErrMissingSection = errors.New("missing weather section")

// Decoder normalizes one source's payload.
type Decoder interface {
	Decode(body []byte) (models.WeatherRecord, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(body []byte) (models.WeatherRecord, error)

// Decode calls f.
func (f DecoderFunc) Decode(body []byte) (models.WeatherRecord, error) {
	return f(body)
}

// Registry selects a decoder by source name. Unregistered names use the fallback,
// which accepts any of the known payload shapes.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
	fallback Decoder
}

// NewRegistry returns a Registry with the built-in adapters registered.
func NewRegistry() *Registry {
	return &Registry{
		decoders: map[string]Decoder{
			OpenWeatherMap: DecoderFunc(DecodeOpenWeather),
			OpenMeteo:      DecoderFunc(DecodeOpenMeteo),
			WeatherStack:   DecoderFunc(DecodeWeatherStack),
		},
		fallback: DecoderFunc(DecodeAny),
	}
}

// Register adds or replaces the decoder for name.
func (r *Registry) Register(name string, d Decoder) {
	r.mu.Lock()
	r.decoders[name] = d
	r.mu.Unlock()
}

// Decode implements client.Decoder.
func (r *Registry) Decode(sourceName string, body []byte) (models.WeatherRecord, error) {
	r.mu.RLock()
	d, ok := r.decoders[sourceName]
	r.mu.RUnlock()
	if !ok {
		d = r.fallback
	}
	rec, err := d.Decode(body)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	rec.Source = sourceName
	return rec, nil
}
