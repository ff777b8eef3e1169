package sheetlog

import (
	"context"
	"fmt"
	"time"

	"macrolog/internal/api/sheets"
	"macrolog/internal/nutrition"
)

// DailySummary is what got logged for one date.
type DailySummary struct {
	Date   time.Time
	Found  bool
	Macros nutrition.Macros
	Steps  float64
	Weight float64
}

// WeeklySummary averages macros over the days of one week that have data.
type WeeklySummary struct {
	WeekStart time.Time
	// DaysWithData counts the dates in the window that have a row.
	DaysWithData int
	// AvgMacros and AvgSteps average over days with data only.
	AvgMacros nutrition.Macros
	AvgSteps  float64
}

// Daily reads the summary for one date. A missing row yields Found == false,
// not an error.
func (s *Store) Daily(ctx context.Context, sheetID, worksheet string, schema Schema, date time.Time) (DailySummary, error) {
	fields, found, err := s.ReadRow(ctx, sheetID, worksheet, schema, date)
	if err != nil {
		return DailySummary{}, err
	}
	sum := DailySummary{Date: date, Found: found}
	if !found {
		return sum, nil
	}
	sum.Macros = macrosOf(fields)
	sum.Steps, _ = toFloat(fields[FieldSteps])
	sum.Weight, _ = toFloat(fields[FieldWeight])
	return sum, nil
}

// Weekly reads the 7-day window starting at weekStart and averages over the
// days that have rows. Missing or non-numeric cells are skipped, not treated
// as zero days.
func (s *Store) Weekly(ctx context.Context, sheetID, worksheet string, schema Schema, weekStart time.Time) (WeeklySummary, error) {
	sum := WeeklySummary{WeekStart: weekStart}

	// One read for the whole worksheet, then match dates locally.
	byDate, err := s.rowsByDate(ctx, sheetID, worksheet, schema)
	if err != nil {
		return WeeklySummary{}, err
	}

	var totals nutrition.Macros
	var steps float64
	for day := range 7 {
		date := weekStart.AddDate(0, 0, day)
		row, ok := byDate[date.Format(DateLayout)]
		if !ok {
			continue
		}
		sum.DaysWithData++
		fields := rowFields(schema, row)
		m := macrosOf(fields)
		totals.CaloriesKcal += m.CaloriesKcal
		totals.ProteinG += m.ProteinG
		totals.CarbsG += m.CarbsG
		totals.FatG += m.FatG
		totals.FiberG += m.FiberG
		if v, ok := toFloat(fields[FieldSteps]); ok {
			steps += v
		}
	}
	if sum.DaysWithData == 0 {
		return sum, nil
	}
	n := float64(sum.DaysWithData)
	sum.AvgMacros = nutrition.Macros{
		CaloriesKcal: round1(totals.CaloriesKcal / n),
		ProteinG:     round1(totals.ProteinG / n),
		CarbsG:       round1(totals.CarbsG / n),
		FatG:         round1(totals.FatG / n),
		FiberG:       round1(totals.FiberG / n),
	}
	sum.AvgSteps = round1(steps / n)
	return sum, nil
}

func (s *Store) rowsByDate(ctx context.Context, sheetID, worksheet string, schema Schema) (map[string][]any, error) {
	width := schema.width()
	rangeA1 := worksheet + "!A:" + sheets.ColumnLetter(width-1)
	vr, err := s.Sheets.Get(ctx, sheetID, rangeA1)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s/%s: %v", ErrStore, sheetID, worksheet, err)
	}
	byDate := make(map[string][]any)
	for i := schema.FirstDataRow; i < len(vr.Values); i++ {
		if key := cellString(cellAt(vr.Values[i], schema.DateColumn)); key != "" {
			byDate[key] = vr.Values[i]
		}
	}
	return byDate, nil
}

func macrosOf(fields map[string]any) nutrition.Macros {
	var m nutrition.Macros
	m.CaloriesKcal, _ = toFloat(fields[FieldCalories])
	m.ProteinG, _ = toFloat(fields[FieldProtein])
	m.CarbsG, _ = toFloat(fields[FieldCarbs])
	m.FatG, _ = toFloat(fields[FieldFat])
	m.FiberG, _ = toFloat(fields[FieldFiber])
	return m
}
