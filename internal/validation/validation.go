package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrCoordinatesRequired is returned when latitude or longitude is absent or zero.
var ErrCoordinatesRequired = errors.New("latitude and longitude are required query parameters")

// ErrCoordinatesOutOfRange is returned when latitude is outside [-90, 90] or longitude outside [-180, 180].
var ErrCoordinatesOutOfRange = errors.New("invalid latitude or longitude values")

// ErrCoordinatesInvalid is returned when a coordinate is not a finite number.
var ErrCoordinatesInvalid = errors.New("latitude and longitude must be numbers")

var validate = validator.New()

// Coordinates is a validated location. A zero value on either axis counts as
// missing, so the equator and the prime meridian cannot be queried.
type Coordinates struct {
	Latitude  float64 `validate:"required,min=-90,max=90"`
	Longitude float64 `validate:"required,min=-180,max=180"`
}

// ParseCoordinates parses raw query values and validates them.
// Returns an error suitable for 400 INVALID_COORDINATES responses.
func ParseCoordinates(latRaw, lonRaw string) (Coordinates, error) {
	lat, err := parseAxis(latRaw)
	if err != nil {
		return Coordinates{}, err
	}
	lon, err := parseAxis(lonRaw)
	if err != nil {
		return Coordinates{}, err
	}
	c := Coordinates{Latitude: lat, Longitude: lon}
	return c, c.Validate()
}

// Validate checks c against its struct tags. Missing takes precedence over out of range.
func (c Coordinates) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return ErrCoordinatesRequired
		}
	}
	return ErrCoordinatesOutOfRange
}

// parseAxis treats an empty value as zero so it fails the required check.
func parseAxis(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrCoordinatesInvalid
	}
	return v, nil
}
