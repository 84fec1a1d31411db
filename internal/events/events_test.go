package events

import (
	"errors"
	"strings"
	"testing"

	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

const header = "Time and Date,Horizontal Wind Speed (m/s) at 99m,Wind Direction (deg) at 99m\n"

func lidarTable(t *testing.T, rows string) *dataset.Table {
	t.Helper()
	tbl, err := dataset.Parse(strings.NewReader(header+rows), dataset.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := dataset.PreprocessLidar(tbl); err != nil {
		t.Fatalf("PreprocessLidar() error = %v", err)
	}
	return tbl
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		rows  string
		cfg   func(*Config)
		want  []models.EventType
		times []string
	}{
		{
			name:  "high wind only",
			rows:  "t1,5,100\nt2,12,110\nt3,10,115\n",
			want:  []models.EventType{models.EventHighWindSpeed},
			times: []string{"t2"},
		},
		{
			name:  "direction change",
			rows:  "t1,5,100\nt2,5,140\nt3,5,150\n",
			want:  []models.EventType{models.EventDirectionChange},
			times: []string{"t2"},
		},
		{
			name:  "both on the same row, high wind first",
			rows:  "t1,5,100\nt2,15,200\n",
			want:  []models.EventType{models.EventHighWindSpeed, models.EventDirectionChange},
			times: []string{"t2", "t2"},
		},
		{
			name:  "sentinel row skipped and does not update previous direction",
			rows:  "t1,5,100\nt2,9999,300\nt3,5,120\n",
			want:  nil,
			times: nil,
		},
		{
			name:  "missing speed row skipped and does not update previous direction",
			rows:  "t1,5,100\nt2,,300\nt3,5,120\n",
			want:  nil,
			times: nil,
		},
		{
			name:  "infinite speed treated as missing",
			rows:  "t1,5,100\nt2,inf,300\nt3,5,120\n",
			want:  nil,
			times: nil,
		},
		{
			name:  "missing direction clears the reference",
			rows:  "t1,5,100\nt2,5,\nt3,5,300\n",
			want:  nil,
			times: nil,
		},
		{
			name:  "raw difference across north",
			rows:  "t1,5,350\nt2,5,10\n",
			want:  []models.EventType{models.EventDirectionChange},
			times: []string{"t2"},
		},
		{
			name:  "wrapped difference across north",
			rows:  "t1,5,350\nt2,5,10\n",
			cfg:   func(c *Config) { c.WrapDirection = true },
			want:  nil,
			times: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			got, err := Detect(lidarTable(t, tt.rows), "scotland", cfg)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Detect() = %+v, want types %v", got, tt.want)
			}
			for i, ev := range got {
				if ev.Type != tt.want[i] || ev.Time != tt.times[i] {
					t.Errorf("event %d = %s@%s, want %s@%s", i, ev.Type, ev.Time, tt.want[i], tt.times[i])
				}
				if ev.Site != "scotland" {
					t.Errorf("event %d site = %q", i, ev.Site)
				}
			}
		})
	}
}

func TestDetect_EventPayloads(t *testing.T) {
	got, err := Detect(lidarTable(t, "t1,5,100\nt2,15,200\n"), "ireland", DefaultConfig())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if got[0].WindSpeed == nil || *got[0].WindSpeed != 15 {
		t.Errorf("WindSpeed = %v, want 15", got[0].WindSpeed)
	}
	if got[1].DirectionChange == nil || *got[1].DirectionChange != 100 {
		t.Errorf("DirectionChange = %v, want 100", got[1].DirectionChange)
	}
	counts := Counts(got)
	if counts[models.EventHighWindSpeed] != 1 || counts[models.EventDirectionChange] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestDetect_MissingColumns(t *testing.T) {
	tbl, err := dataset.Parse(strings.NewReader("a,b\n1,2\n"), dataset.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := Detect(tbl, "x", DefaultConfig()); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("Detect() error = %v, want ErrColumnNotFound", err)
	}
}
