// Package sheetlog stores daily health logs in Google Sheets worksheets.
//
// A worksheet holds one row per date. Writes go through a read-modify-write
// cycle serialized per (spreadsheet, worksheet, date) so concurrent sessions
// targeting the same day never lose each other's updates. Scalar metrics
// overwrite the existing cell; macro fields add to it, so two meals logged
// for the same day accumulate.
package sheetlog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"macrolog/internal/api/sheets"
	"macrolog/internal/logger"
	"macrolog/internal/util/syncx"
)

// ErrStore wraps spreadsheet read/write failures so callers can tell them
// apart from other error classes.
var ErrStore = errors.New("sheet store error")

// DateLayout is how dates are written into the date column.
const DateLayout = "02.01.2006"

// FieldUpdate is one field's new value for an upsert.
type FieldUpdate struct {
	// Value is written as-is for overwrite fields. For additive fields it
	// must be numeric and is added to the existing cell value.
	Value any
}

// Store reads and writes daily log rows.
type Store struct {
	Sheets *sheets.Client
	// Logf logs writes. Defaults to a no-op.
	Logf logger.Logf

	locks syncx.Map[string, *sync.Mutex]
}

func (s *Store) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// lockRow serializes access to one date row. The returned function unlocks.
func (s *Store) lockRow(sheetID, worksheet string, date time.Time) func() {
	key := sheetID + "\x00" + worksheet + "\x00" + date.Format(DateLayout)
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// UpsertRow merges updates into the row for date, creating the row if the
// date has none yet. The write is a single API call, so a failure leaves the
// sheet untouched.
func (s *Store) UpsertRow(ctx context.Context, sheetID, worksheet string, schema Schema, date time.Time, updates map[string]FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	unlock := s.lockRow(sheetID, worksheet, date)
	defer unlock()

	rowIdx, row, err := s.findRow(ctx, sheetID, worksheet, schema, date)
	if err != nil {
		return err
	}
	if rowIdx < 0 {
		return s.appendRow(ctx, sheetID, worksheet, schema, date, updates)
	}

	var data []sheets.ValueRange
	for field, upd := range updates {
		col, ok := schema.Columns[field]
		if !ok {
			return fmt.Errorf("schema %s has no column for field %q", schema.Name, field)
		}
		value := upd.Value
		if Additive(field) {
			delta, ok := toFloat(upd.Value)
			if !ok {
				return fmt.Errorf("additive field %q needs a numeric value, got %T", field, upd.Value)
			}
			existing, _ := toFloat(cellAt(row, col))
			value = round1(existing + delta)
		}
		cell := fmt.Sprintf("%s!%s%d", worksheet, sheets.ColumnLetter(col), rowIdx+1)
		data = append(data, sheets.ValueRange{
			Range:  cell,
			Values: [][]any{{value}},
		})
	}
	if err := s.Sheets.BatchUpdate(ctx, sheetID, data); err != nil {
		return fmt.Errorf("%w: updating row for %s: %v", ErrStore, date.Format(DateLayout), err)
	}
	s.logf("sheetlog: updated %d field(s) for %s in %s/%s", len(updates), date.Format(DateLayout), sheetID, worksheet)
	return nil
}

// ReadRow returns the fields of the row for date, or found == false when the
// date has no row.
func (s *Store) ReadRow(ctx context.Context, sheetID, worksheet string, schema Schema, date time.Time) (fields map[string]any, found bool, err error) {
	rowIdx, row, err := s.findRow(ctx, sheetID, worksheet, schema, date)
	if err != nil {
		return nil, false, err
	}
	if rowIdx < 0 {
		return nil, false, nil
	}
	return rowFields(schema, row), true, nil
}

func rowFields(schema Schema, row []any) map[string]any {
	fields := make(map[string]any, len(schema.Columns))
	for field, col := range schema.Columns {
		if v := cellAt(row, col); v != nil {
			fields[field] = v
		}
	}
	return fields
}

// findRow locates the row for date. It returns rowIdx == -1 when the date is
// not present. rowIdx is 0-based from the top of the worksheet.
func (s *Store) findRow(ctx context.Context, sheetID, worksheet string, schema Schema, date time.Time) (rowIdx int, row []any, err error) {
	width := schema.width()
	rangeA1 := fmt.Sprintf("%s!A:%s", worksheet, sheets.ColumnLetter(width-1))
	vr, err := s.Sheets.Get(ctx, sheetID, rangeA1)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading %s/%s: %v", ErrStore, sheetID, worksheet, err)
	}

	want := date.Format(DateLayout)
	for i := schema.FirstDataRow; i < len(vr.Values); i++ {
		if cellString(cellAt(vr.Values[i], schema.DateColumn)) == want {
			return i, vr.Values[i], nil
		}
	}
	return -1, nil, nil
}

func (s *Store) appendRow(ctx context.Context, sheetID, worksheet string, schema Schema, date time.Time, updates map[string]FieldUpdate) error {
	row := make([]any, schema.width())
	for i := range row {
		row[i] = ""
	}
	row[schema.DateColumn] = date.Format(DateLayout)
	for field, upd := range updates {
		col, ok := schema.Columns[field]
		if !ok {
			return fmt.Errorf("schema %s has no column for field %q", schema.Name, field)
		}
		value := upd.Value
		if Additive(field) {
			delta, ok := toFloat(upd.Value)
			if !ok {
				return fmt.Errorf("additive field %q needs a numeric value, got %T", field, upd.Value)
			}
			value = round1(delta)
		}
		row[col] = value
	}

	rangeA1 := fmt.Sprintf("%s!A:%s", worksheet, sheets.ColumnLetter(schema.width()-1))
	if err := s.Sheets.Append(ctx, sheetID, rangeA1, [][]any{row}); err != nil {
		return fmt.Errorf("%w: appending row for %s: %v", ErrStore, date.Format(DateLayout), err)
	}
	s.logf("sheetlog: created row for %s in %s/%s", date.Format(DateLayout), sheetID, worksheet)
	return nil
}

func cellAt(row []any, col int) any {
	if col < 0 || col >= len(row) {
		return nil
	}
	return row[col]
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// toFloat parses a cell tolerantly: numbers pass through, strings may use a
// comma decimal separator, anything else counts as absent.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		sv := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
		if sv == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(sv, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// round1 keeps sheet cells readable; macro precision beyond 0.1 is noise.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
