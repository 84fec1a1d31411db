package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
)

// ErrUnparsableTime is returned when an event time matches none of the layouts.
var ErrUnparsableTime = errors.New("unparsable event time")

// ObservationGetter is the weather lookup used by the cross-checker.
type ObservationGetter interface {
	GetObservation(ctx context.Context, lat, lon float64, at time.Time) (models.WeatherObservation, error)
}

// CrossCheckConfig controls event time parsing and verdict thresholds.
type CrossCheckConfig struct {
	// Layouts are tried in order to parse event times.
	Layouts []string
	// Location is the zone event times are recorded in.
	Location *time.Location
	// WindSpeed is the observed speed (m/s) above which a high wind event aligns.
	WindSpeed float64
	// Concurrency bounds parallel weather lookups.
	Concurrency int
}

// CrossChecker compares detected events with observed weather.
type CrossChecker struct {
	weather ObservationGetter
	cfg     CrossCheckConfig
}

// NewCrossChecker returns a CrossChecker with defaults filled in.
func NewCrossChecker(weather ObservationGetter, cfg CrossCheckConfig) *CrossChecker {
	if len(cfg.Layouts) == 0 {
		cfg.Layouts = []string{"02/01/2006 15:04:05"}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &CrossChecker{weather: weather, cfg: cfg}
}

// ParseEventTime parses s with the configured layouts in the configured zone.
// Times carrying their own offset are converted to that zone, which is the one
// weather lookups are requested in.
func (c *CrossChecker) ParseEventTime(s string) (time.Time, error) {
	for _, layout := range c.cfg.Layouts {
		if t, err := time.ParseInLocation(layout, s, c.cfg.Location); err == nil {
			return t.In(c.cfg.Location), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableTime, s)
}

// CrossCheck assesses every event against weather at site. Assessments are in
// event order. Lookup failures yield unavailable verdicts; only cancellation of
// ctx is returned as an error.
func (c *CrossChecker) CrossCheck(ctx context.Context, site models.Site, evs []models.Event) ([]models.Assessment, error) {
	out := make([]models.Assessment, len(evs))
	logger := requestctx.Logger(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, ev := range evs {
		i, ev := i, ev
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			at, err := c.ParseEventTime(ev.Time)
			if err != nil {
				logger.Debug("event time not parsed", zap.String("time", ev.Time), zap.Error(err))
				out[i] = unavailable(ev)
				return nil
			}
			obs, err := c.weather.GetObservation(gctx, site.Latitude, site.Longitude, at)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Debug("weather lookup failed", zap.String("time", ev.Time), zap.Error(err))
				out[i] = unavailable(ev)
				return nil
			}
			out[i] = c.assess(ev, obs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, a := range out {
		observability.CrossCheckVerdictsTotal.WithLabelValues(string(a.Verdict)).Inc()
	}
	return out, nil
}

func (c *CrossChecker) assess(ev models.Event, obs models.WeatherObservation) models.Assessment {
	a := models.Assessment{Event: ev, Verdict: models.VerdictNotAligned, Observation: &obs}
	prefix := "Event: " + ev.Type.Title() + " at " + ev.Time
	switch ev.Type {
	case models.EventHighWindSpeed:
		if obs.WindSpeed != nil && *obs.WindSpeed > c.cfg.WindSpeed {
			a.Verdict = models.VerdictAligned
			a.Message = prefix + " aligns with weather: Wind speed " + formatFloat(*obs.WindSpeed) + " m/s."
			return a
		}
	case models.EventDirectionChange:
		if obs.WindDirection != nil {
			a.Verdict = models.VerdictAligned
			a.Message = prefix + " aligns with weather: Wind direction change " + formatFloat(*obs.WindDirection) + "°."
			return a
		}
	}
	a.Message = prefix + " does not align with weather data."
	return a
}

func unavailable(ev models.Event) models.Assessment {
	return models.Assessment{
		Event:   ev,
		Verdict: models.VerdictUnavailable,
		Message: "Weather data not available for event at " + ev.Time + ".",
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
