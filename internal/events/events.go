// Package events flags high wind speed and large direction changes in LiDAR tables.
package events

import (
	"errors"
	"fmt"
	"math"

	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

var ErrColumnNotFound = errors.New("column not found")

// Config names the columns to scan and the thresholds to apply.
type Config struct {
	SpeedColumn     string
	DirectionColumn string
	TimeColumn      string
	// HighWindSpeed flags rows with speed strictly above it (m/s).
	HighWindSpeed float64
	// DirectionChange flags consecutive rows whose direction differs by more than it (degrees).
	DirectionChange float64
	// InvalidSpeed is the sentinel value instruments write for a missing reading.
	InvalidSpeed float64
	// WrapDirection measures the smaller arc between directions instead of the raw difference.
	WrapDirection bool
}

// DefaultConfig matches the 99m channel of the profiler exports.
func DefaultConfig() Config {
	return Config{
		SpeedColumn:     "Horizontal Wind Speed (m/s) at 99m",
		DirectionColumn: "Wind Direction (deg) at 99m",
		TimeColumn:      "Time and Date",
		HighWindSpeed:   10,
		DirectionChange: 30,
		InvalidSpeed:    9999,
	}
}

// Detect scans t in row order. Rows with a missing or sentinel speed are skipped
// entirely and do not become the reference direction for the next row.
func Detect(t *dataset.Table, site string, cfg Config) ([]models.Event, error) {
	speeds, ok := t.Numeric(cfg.SpeedColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, cfg.SpeedColumn)
	}
	times, ok := t.Text(cfg.TimeColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, cfg.TimeColumn)
	}
	dirs, hasDir := t.Numeric(cfg.DirectionColumn)

	out := []models.Event{}
	prev := math.NaN()
	for row := 0; row < t.Rows; row++ {
		speed := speeds[row]
		if math.IsNaN(speed) || speed == cfg.InvalidSpeed {
			continue
		}
		if speed > cfg.HighWindSpeed {
			s := speed
			out = append(out, models.Event{
				Type:      models.EventHighWindSpeed,
				Site:      site,
				Time:      times[row],
				Row:       row,
				WindSpeed: &s,
			})
		}
		if !hasDir {
			continue
		}
		dir := dirs[row]
		if !math.IsNaN(prev) && !math.IsNaN(dir) {
			change := directionDelta(prev, dir, cfg.WrapDirection)
			if change > cfg.DirectionChange {
				out = append(out, models.Event{
					Type:            models.EventDirectionChange,
					Site:            site,
					Time:            times[row],
					Row:             row,
					DirectionChange: &change,
				})
			}
		}
		prev = dir
	}
	return out, nil
}

func directionDelta(from, to float64, wrap bool) float64 {
	d := math.Abs(to - from)
	if wrap {
		d = math.Mod(d, 360)
		if d > 180 {
			d = 360 - d
		}
	}
	return d
}

// Counts tallies events by type.
func Counts(evs []models.Event) map[models.EventType]int {
	out := make(map[models.EventType]int)
	for _, e := range evs {
		out[e.Type]++
	}
	return out
}
