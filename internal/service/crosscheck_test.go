package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

type stubGetter struct {
	byHour map[string]models.WeatherObservation
	err    error
	calls  atomic.Int32
}

func (s *stubGetter) GetObservation(ctx context.Context, lat, lon float64, at time.Time) (models.WeatherObservation, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return models.WeatherObservation{}, err
	}
	if s.err != nil {
		return models.WeatherObservation{}, s.err
	}
	obs, ok := s.byHour[at.Format("2006-01-02T15")]
	if !ok {
		return models.WeatherObservation{}, errors.New("no data")
	}
	return obs, nil
}

var scotland = models.Site{Name: "scotland", Latitude: 56.4907, Longitude: -4.2026}

func newChecker(g ObservationGetter) *CrossChecker {
	london, _ := time.LoadLocation("Europe/London")
	return NewCrossChecker(g, CrossCheckConfig{
		Layouts:     []string{"02/01/2006 15:04:05", "2006-01-02 15:04:05"},
		Location:    london,
		WindSpeed:   20,
		Concurrency: 2,
	})
}

func TestCrossChecker_ParseEventTime(t *testing.T) {
	c := newChecker(&stubGetter{})
	got, err := c.ParseEventTime("15/01/2024 13:10:00")
	if err != nil {
		t.Fatalf("ParseEventTime() error = %v", err)
	}
	if got.Day() != 15 || got.Month() != time.January || got.Hour() != 13 || got.Location().String() != "Europe/London" {
		t.Errorf("ParseEventTime() = %v", got)
	}
	if _, err := c.ParseEventTime("2024-01-15 13:10:00"); err != nil {
		t.Errorf("second layout error = %v", err)
	}
	if _, err := c.ParseEventTime("yesterday"); !errors.Is(err, ErrUnparsableTime) {
		t.Errorf("error = %v, want ErrUnparsableTime", err)
	}
}

func TestCrossChecker_ParseEventTime_ConvertsOffsetToZone(t *testing.T) {
	london, _ := time.LoadLocation("Europe/London")
	c := NewCrossChecker(&stubGetter{}, CrossCheckConfig{Layouts: []string{time.RFC3339}, Location: london})
	got, err := c.ParseEventTime("2024-07-15T13:10:00Z")
	if err != nil {
		t.Fatalf("ParseEventTime() error = %v", err)
	}
	if got.Location().String() != "Europe/London" || got.Hour() != 14 {
		t.Errorf("ParseEventTime() = %v, want 14:10 Europe/London (BST)", got)
	}
}

// TestCrossChecker_Verdicts covers each verdict and message form.
func TestCrossChecker_Verdicts(t *testing.T) {
	g := &stubGetter{byHour: map[string]models.WeatherObservation{
		"2024-01-15T13": {WindSpeed: fptr(22.5), WindDirection: fptr(250)},
		"2024-01-15T14": {WindSpeed: fptr(8)},
	}}
	evs := []models.Event{
		{Type: models.EventHighWindSpeed, Site: "scotland", Time: "15/01/2024 13:10:00", WindSpeed: fptr(12)},
		{Type: models.EventDirectionChange, Site: "scotland", Time: "15/01/2024 13:20:00", DirectionChange: fptr(45)},
		{Type: models.EventHighWindSpeed, Site: "scotland", Time: "15/01/2024 14:00:00", WindSpeed: fptr(11)},
		{Type: models.EventDirectionChange, Site: "scotland", Time: "15/01/2024 14:10:00", DirectionChange: fptr(40)},
		{Type: models.EventHighWindSpeed, Site: "scotland", Time: "16/01/2024 09:00:00", WindSpeed: fptr(15)},
		{Type: models.EventHighWindSpeed, Site: "scotland", Time: "not a time", WindSpeed: fptr(15)},
	}

	got, err := newChecker(g).CrossCheck(context.Background(), scotland, evs)
	if err != nil {
		t.Fatalf("CrossCheck() error = %v", err)
	}
	want := []struct {
		verdict models.Verdict
		message string
	}{
		{models.VerdictAligned, "Event: High Wind Speed at 15/01/2024 13:10:00 aligns with weather: Wind speed 22.5 m/s."},
		{models.VerdictAligned, "Event: Wind Direction Change at 15/01/2024 13:20:00 aligns with weather: Wind direction change 250°."},
		{models.VerdictNotAligned, "Event: High Wind Speed at 15/01/2024 14:00:00 does not align with weather data."},
		{models.VerdictNotAligned, "Event: Wind Direction Change at 15/01/2024 14:10:00 does not align with weather data."},
		{models.VerdictUnavailable, "Weather data not available for event at 16/01/2024 09:00:00."},
		{models.VerdictUnavailable, "Weather data not available for event at not a time."},
	}
	if len(got) != len(want) {
		t.Fatalf("len(assessments) = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Verdict != w.verdict || got[i].Message != w.message {
			t.Errorf("assessment[%d] = %s %q, want %s %q", i, got[i].Verdict, got[i].Message, w.verdict, w.message)
		}
		if got[i].Event.Time != evs[i].Time {
			t.Errorf("assessment[%d] out of order: %q", i, got[i].Event.Time)
		}
	}
	if got[0].Observation == nil || got[4].Observation != nil {
		t.Error("Observation should be set only when weather data was retrieved")
	}
	if n := g.calls.Load(); n != 5 {
		t.Errorf("lookups = %d, want 5 (unparsable time skipped)", n)
	}
}

// TestCrossChecker_ThresholdIsStrict verifies that a speed equal to the threshold does not align.
func TestCrossChecker_ThresholdIsStrict(t *testing.T) {
	g := &stubGetter{byHour: map[string]models.WeatherObservation{"2024-01-15T13": {WindSpeed: fptr(20)}}}
	got, _ := newChecker(g).CrossCheck(context.Background(), scotland, []models.Event{
		{Type: models.EventHighWindSpeed, Time: "15/01/2024 13:00:00"},
	})
	if got[0].Verdict != models.VerdictNotAligned {
		t.Errorf("Verdict = %s, want not_aligned at threshold", got[0].Verdict)
	}
}

func TestCrossChecker_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newChecker(&stubGetter{}).CrossCheck(ctx, scotland, []models.Event{
		{Type: models.EventHighWindSpeed, Time: "15/01/2024 13:00:00"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCrossChecker_Empty(t *testing.T) {
	got, err := newChecker(&stubGetter{}).CrossCheck(context.Background(), scotland, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("CrossCheck(nil) = %v, %v", got, err)
	}
}

func TestCrossChecker_UpstreamErrorIsUnavailable(t *testing.T) {
	g := &stubGetter{err: errors.New("boom")}
	got, err := newChecker(g).CrossCheck(context.Background(), scotland, []models.Event{
		{Type: models.EventDirectionChange, Time: "15/01/2024 13:00:00"},
	})
	if err != nil {
		t.Fatalf("CrossCheck() error = %v", err)
	}
	if got[0].Verdict != models.VerdictUnavailable || !strings.HasPrefix(got[0].Message, "Weather data not available") {
		t.Errorf("assessment = %+v", got[0])
	}
}
