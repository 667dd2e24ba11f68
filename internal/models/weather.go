package models

import "time"

// WeatherRecord is one normalized observation produced by a single upstream source.
// A nil field means the source did not report that value.
type WeatherRecord struct {
	Source      string   `json:"source"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	WindSpeed   *float64 `json:"windSpeed,omitempty"`
}

// Float returns a pointer to v. Used by source adapters when a field is present.
func Float(v float64) *float64 {
	return &v
}

// TemperatureOr returns the temperature, or missing when the source did not report one.
func (r WeatherRecord) TemperatureOr(missing float64) float64 {
	if r.Temperature == nil {
		return missing
	}
	return *r.Temperature
}

// HumidityOr returns the humidity, or missing when absent.
func (r WeatherRecord) HumidityOr(missing float64) float64 {
	if r.Humidity == nil {
		return missing
	}
	return *r.Humidity
}

// WindSpeedOr returns the wind speed, or missing when absent.
func (r WeatherRecord) WindSpeedOr(missing float64) float64 {
	if r.WindSpeed == nil {
		return missing
	}
	return *r.WindSpeed
}

// Clone returns a deep copy so callers never share optional-value pointers.
func (r WeatherRecord) Clone() WeatherRecord {
	out := WeatherRecord{Source: r.Source}
	if r.Temperature != nil {
		out.Temperature = Float(*r.Temperature)
	}
	if r.Humidity != nil {
		out.Humidity = Float(*r.Humidity)
	}
	if r.WindSpeed != nil {
		out.WindSpeed = Float(*r.WindSpeed)
	}
	return out
}

// CloneRecords deep-copies a record slice. A nil input yields an empty, non-nil slice.
func CloneRecords(in []WeatherRecord) []WeatherRecord {
	out := make([]WeatherRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// SourceRequest names one upstream and the fully formed endpoint to call (credentials included).
type SourceRequest struct {
	SourceName string `json:"sourceName"`
	Endpoint   string `json:"-"`
}

// RequestLog is a single latency observation for a source.
type RequestLog struct {
	SourceName     string    `json:"sourceName"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Timestamp      time.Time `json:"timestamp"`
}

// PerformanceBuckets counts requests by latency class.
type PerformanceBuckets struct {
	Fast    int `json:"fast"`
	Average int `json:"average"`
	Slow    int `json:"slow"`
}

// SourceStatistics is the derived latency summary for one source.
type SourceStatistics struct {
	SourceName            string             `json:"sourceName"`
	TotalRequests         int                `json:"totalRequests"`
	AverageResponseTimeMs float64            `json:"averageResponseTimeMs"`
	PerformanceBuckets    PerformanceBuckets `json:"performanceBuckets"`
}
