package models

import (
	"encoding/json"
	"math"
	"time"
)

// Float is a float64 that serialises NaN and ±Inf as JSON null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// Kind identifies the family a dataset belongs to.
type Kind string

const (
	KindMesoscale Kind = "mesoscale"
	KindLidar     Kind = "lidar"
	KindGeneric   Kind = "generic"
)

// Site is a named measurement location.
type Site struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// EventType labels a detected event.
type EventType string

const (
	EventHighWindSpeed   EventType = "high_wind_speed"
	EventDirectionChange EventType = "wind_direction_change"
)

// Title is the display name used in dashboards and cross-check messages.
func (t EventType) Title() string {
	switch t {
	case EventHighWindSpeed:
		return "High Wind Speed"
	case EventDirectionChange:
		return "Wind Direction Change"
	default:
		return string(t)
	}
}

type Event struct {
	Type            EventType `json:"type"`
	Site            string    `json:"site"`
	Time            string    `json:"time"`
	Row             int       `json:"row"`
	WindSpeed       *float64  `json:"windSpeed,omitempty"`
	DirectionChange *float64  `json:"directionChange,omitempty"`
}

// WeatherObservation is one hourly sample from the weather API. Nil fields were absent upstream.
type WeatherObservation struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Hour          string    `json:"hour"`
	Temperature   *float64  `json:"temperature,omitempty"`
	WindSpeed     *float64  `json:"windSpeed,omitempty"`
	WindDirection *float64  `json:"windDirection,omitempty"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	FetchedAt     time.Time `json:"fetchedAt"`
	Stale         bool      `json:"stale,omitempty"`
}

// Verdict is the outcome of cross-checking an event against weather data.
type Verdict string

const (
	VerdictAligned     Verdict = "aligned"
	VerdictNotAligned  Verdict = "not_aligned"
	VerdictUnavailable Verdict = "unavailable"
)

type Assessment struct {
	Event       Event               `json:"event"`
	Verdict     Verdict             `json:"verdict"`
	Message     string              `json:"message"`
	Observation *WeatherObservation `json:"observation,omitempty"`
}
