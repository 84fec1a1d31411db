package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrEmptyDataset = errors.New("dataset is empty")
	ErrInvalidCSV   = errors.New("invalid CSV")
	ErrTooLarge     = errors.New("upload too large")
)

// unitSuffix is appended to speed cells by some LiDAR exports.
const unitSuffix = " m/s"

// unitSampleRows is how many leading cells are checked for the unit suffix.
const unitSampleRows = 10

// ParseOptions controls CSV ingestion.
type ParseOptions struct {
	// SkipRows discards leading lines before the header (LiDAR metadata).
	SkipRows int
	// MaxBytes caps the input size; 0 disables the cap.
	MaxBytes int64
}

// Parse reads a CSV with a header row into a Table and infers numeric columns:
// a column is numeric when every non-empty cell parses as a float.
func Parse(r io.Reader, opts ParseOptions) (*Table, error) {
	var limited *limitReader
	if opts.MaxBytes > 0 {
		limited = &limitReader{r: r, remaining: opts.MaxBytes}
		r = limited
	}
	br := bufio.NewReader(r)
	for i := 0; i < opts.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				return nil, ErrEmptyDataset
			}
			return nil, wrapReadErr(err, limited)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmptyDataset
		}
		return nil, wrapReadErr(err, limited)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	cols := make([]Column, len(header))
	for i, h := range header {
		cols[i].Name = strings.TrimSpace(h)
		if cols[i].Name == "" {
			cols[i].Name = "column_" + strconv.Itoa(i)
		}
	}

	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapReadErr(err, limited)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		for i := range cols {
			cell := ""
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			cols[i].Text = append(cols[i].Text, cell)
		}
		rows++
	}
	if rows == 0 {
		return nil, ErrEmptyDataset
	}

	t := &Table{Columns: cols, Rows: rows}
	for i := range t.Columns {
		inferNumeric(&t.Columns[i])
	}
	return t, nil
}

// PreprocessLidar strips the " m/s" unit from columns that carry it, coerces every
// column to numbers (unparsable cells become NaN) and drops rows with no numeric value.
// Columns without a single finite value stay text-only so timestamps survive.
func PreprocessLidar(t *Table) error {
	for i := range t.Columns {
		c := &t.Columns[i]
		if hasUnitSuffix(c.Text) {
			for r, cell := range c.Text {
				c.Text[r] = strings.TrimSpace(strings.Replace(cell, unitSuffix, "", -1))
			}
		}
		coerceNumeric(c)
	}
	t.dropRows(func(row int) bool {
		for _, c := range t.Columns {
			if c.Numeric && !math.IsNaN(c.Values[row]) {
				return true
			}
		}
		return false
	})
	if t.Rows == 0 {
		return ErrEmptyDataset
	}
	return nil
}

func hasUnitSuffix(cells []string) bool {
	n := len(cells)
	if n > unitSampleRows {
		n = unitSampleRows
	}
	for _, cell := range cells[:n] {
		if strings.Contains(cell, unitSuffix) {
			return true
		}
	}
	return false
}

func inferNumeric(c *Column) {
	vals := make([]float64, len(c.Text))
	seen := false
	for i, cell := range c.Text {
		if cell == "" {
			vals[i] = math.NaN()
			continue
		}
		v, ok := parseFloat(cell)
		if !ok {
			return
		}
		vals[i] = v
		seen = true
	}
	if seen {
		c.Values = vals
		c.Numeric = true
	}
}

func coerceNumeric(c *Column) {
	vals := make([]float64, len(c.Text))
	finite := false
	for i, cell := range c.Text {
		v, ok := parseFloat(cell)
		if !ok {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = v
		if !math.IsNaN(v) {
			finite = true
		}
	}
	if finite {
		c.Values = vals
		c.Numeric = true
	} else {
		c.Values = nil
		c.Numeric = false
	}
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false
	}
	// "inf" and "Infinity" are numeric cells with no usable value.
	if math.IsInf(v, 0) {
		return math.NaN(), true
	}
	return v, true
}

func wrapReadErr(err error, limited *limitReader) error {
	if limited != nil && limited.exceeded {
		return ErrTooLarge
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %v", ErrInvalidCSV, perr)
	}
	return fmt.Errorf("read csv: %w", err)
}

// limitReader fails once more than remaining bytes have been read.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// Probe one byte to tell "exactly at the limit" from "over it".
		var one [1]byte
		n, err := l.r.Read(one[:])
		if n > 0 {
			l.exceeded = true
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
