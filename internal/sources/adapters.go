package sources

import (
	"encoding/json"
	"fmt"

	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

type openWeatherMain struct {
	Temp     *float64 `json:"temp"`
	Humidity *float64 `json:"humidity"`
}

type openWeatherWind struct {
	Speed *float64 `json:"speed"`
}

type openMeteoCurrent struct {
	Temperature *float64 `json:"temperature"`
	WindSpeed   *float64 `json:"windspeed"`
	Humidity    *float64 `json:"humidity"`
}

type weatherStackCurrent struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	WindSpeed   *float64 `json:"wind_speed"`
}

type weatherStackError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

// payload is the union of every known shape. Sections are pointers so a missing
// section is distinguishable from a zero one.
type payload struct {
	Main           *openWeatherMain     `json:"main"`
	Wind           *openWeatherWind     `json:"wind"`
	CurrentWeather *openMeteoCurrent    `json:"current_weather"`
	Current        *weatherStackCurrent `json:"current"`
	Success        *bool                `json:"success"`
	Error          *weatherStackError   `json:"error"`
}

func parse(body []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return payload{}, err
	}
	return p, nil
}

// DecodeOpenWeather reads the OpenWeatherMap "main" and "wind" sections.
func DecodeOpenWeather(body []byte) (models.WeatherRecord, error) {
	p, err := parse(body)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	if p.Main == nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: main", ErrMissingSection)
	}
	return fromOpenWeather(p), nil
}

func fromOpenWeather(p payload) models.WeatherRecord {
	rec := models.WeatherRecord{Temperature: p.Main.Temp, Humidity: p.Main.Humidity}
	if p.Wind != nil {
		rec.WindSpeed = p.Wind.Speed
	}
	return rec
}

// DecodeOpenMeteo reads the Open-Meteo "current_weather" section.
func DecodeOpenMeteo(body []byte) (models.WeatherRecord, error) {
	p, err := parse(body)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	if p.CurrentWeather == nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: current_weather", ErrMissingSection)
	}
	return fromOpenMeteo(p), nil
}

func fromOpenMeteo(p payload) models.WeatherRecord {
	c := p.CurrentWeather
	return models.WeatherRecord{Temperature: c.Temperature, Humidity: c.Humidity, WindSpeed: c.WindSpeed}
}

// DecodeWeatherStack reads the WeatherStack "current" section. WeatherStack reports
// errors with HTTP 200 and success=false; those are decode failures carrying a cause.
func DecodeWeatherStack(body []byte) (models.WeatherRecord, error) {
	p, err := parse(body)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	if err := weatherStackFailure(p); err != nil {
		return models.WeatherRecord{}, err
	}
	if p.Current == nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: current", ErrMissingSection)
	}
	return fromWeatherStack(p), nil
}

func fromWeatherStack(p payload) models.WeatherRecord {
	c := p.Current
	return models.WeatherRecord{Temperature: c.Temperature, Humidity: c.Humidity, WindSpeed: c.WindSpeed}
}

func weatherStackFailure(p payload) error {
	if p.Success == nil || *p.Success {
		return nil
	}
	if p.Error == nil {
		return fmt.Errorf("weatherstack: request unsuccessful")
	}
	switch p.Error.Code {
	case 101, 102:
		return fmt.Errorf("weatherstack %s: %w", p.Error.Type, client.ErrInvalidAPIKey)
	case 104:
		return fmt.Errorf("weatherstack %s: %w", p.Error.Type, client.ErrRateLimited)
	default:
		return fmt.Errorf("weatherstack error %d %s: %s", p.Error.Code, p.Error.Type, p.Error.Info)
	}
}

// DecodeAny accepts whichever known section is present, checked in the order
// main, current_weather, current.
func DecodeAny(body []byte) (models.WeatherRecord, error) {
	p, err := parse(body)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	switch {
	case p.Main != nil:
		return fromOpenWeather(p), nil
	case p.CurrentWeather != nil:
		return fromOpenMeteo(p), nil
	case p.Current != nil:
		return fromWeatherStack(p), nil
	}
	if err := weatherStackFailure(p); err != nil {
		return models.WeatherRecord{}, err
	}
	return models.WeatherRecord{}, fmt.Errorf("%w: none of main, current_weather, current", ErrMissingSection)
}
