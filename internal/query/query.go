// Package query holds the post-processing applied to aggregated records.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// Filter reports whether a record is kept. A nil Filter keeps everything.
type Filter func(models.WeatherRecord) bool

// Comparator orders two records like cmp.Compare. A nil Comparator keeps source order.
type Comparator func(a, b models.WeatherRecord) int

// SortOrder names a temperature ordering.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

var (
	ErrInvalidFilter = errors.New("invalid filter")
	ErrInvalidSort   = errors.New("invalid sort")
)

// TemperatureAbove keeps records whose temperature is strictly greater than threshold.
// Records without a temperature are dropped.
func TemperatureAbove(threshold float64) Filter {
	return func(r models.WeatherRecord) bool {
		return r.Temperature != nil && *r.Temperature > threshold
	}
}

// ByTemperature orders by temperature, treating a missing value as 0.
func ByTemperature(order SortOrder) Comparator {
	return func(a, b models.WeatherRecord) int {
		x, y := a.TemperatureOr(0), b.TemperatureOr(0)
		c := 0
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
		if order == SortDescending {
			return -c
		}
		return c
	}
}

// Apply returns a filtered, stably sorted copy of records. The input is not modified.
func Apply(records []models.WeatherRecord, filter Filter, cmp Comparator) []models.WeatherRecord {
	out := make([]models.WeatherRecord, 0, len(records))
	for _, r := range records {
		if filter == nil || filter(r) {
			out = append(out, r.Clone())
		}
	}
	if cmp != nil {
		slices.SortStableFunc(out, cmp)
	}
	return out
}

// ParseFilter parses a "temperature above" threshold. Empty input means no filter.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidFilter, s)
	}
	return TemperatureAbove(v), nil
}

// ParseSort parses "asc" or "desc", case-insensitively. Empty input means source order.
func ParseSort(s string) (Comparator, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return nil, nil
	case SortAscending:
		return ByTemperature(SortAscending), nil
	case SortDescending:
		return ByTemperature(SortDescending), nil
	default:
		return nil, fmt.Errorf("%w: %q, want asc or desc", ErrInvalidSort, s)
	}
}
