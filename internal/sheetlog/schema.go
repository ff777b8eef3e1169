package sheetlog

import "fmt"

// Field names of a daily log row. Metric fields are overwritten on write;
// macro fields are additively merged.
const (
	FieldWeight       = "weight"
	FieldWeightTime   = "weight_time"
	FieldSleepHours   = "sleep_hours"
	FieldSleepQuality = "sleep_quality"
	FieldSteps        = "steps"
	FieldCardio       = "cardio"
	FieldTraining     = "training"
	FieldEnergy       = "energy"
	FieldMood         = "mood"
	FieldSatiety      = "satiety"
	FieldDigestion    = "digestion"
	FieldWater        = "water"
	FieldCalories     = "calories"
	FieldProtein      = "protein"
	FieldCarbs        = "carbs"
	FieldFat          = "fat"
	FieldFiber        = "fiber"
)

// additiveFields are merged by adding the delta to the existing cell value.
// Everything else overwrites.
var additiveFields = map[string]bool{
	FieldCalories: true,
	FieldProtein:  true,
	FieldCarbs:    true,
	FieldFat:      true,
	FieldFiber:    true,
}

// Additive reports whether writes to the field add to the existing value
// instead of replacing it.
func Additive(field string) bool { return additiveFields[field] }

// Schema describes where a worksheet keeps its date key and its fields.
// Column and row indices are 0-based.
type Schema struct {
	Name         string
	DateColumn   int
	FirstDataRow int
	Columns      map[string]int
}

// width is the number of columns a full row spans.
func (s Schema) width() int {
	w := s.DateColumn + 1
	for _, c := range s.Columns {
		if c+1 > w {
			w = c + 1
		}
	}
	return w
}

// Template is the schema of sheets created from the current template: date in
// column A, data starting on the second row (under a single header row).
var Template = Schema{
	Name:         "template",
	DateColumn:   0,
	FirstDataRow: 1,
	Columns: map[string]int{
		FieldWeight:       1,
		FieldWeightTime:   2,
		FieldSleepHours:   3,
		FieldSleepQuality: 4,
		FieldSteps:        5,
		FieldCardio:       6,
		FieldTraining:     7,
		FieldEnergy:       8,
		FieldMood:         9,
		FieldSatiety:      10,
		FieldDigestion:    11,
		FieldWater:        12,
		FieldCalories:     13,
		FieldProtein:      14,
		FieldCarbs:        15,
		FieldFat:          16,
		FieldFiber:        17,
	},
}

// Legacy is the schema of older hand-made sheets: a decorative column A, the
// date in column B and eight header rows above the data.
var Legacy = Schema{
	Name:         "legacy",
	DateColumn:   1,
	FirstDataRow: 9,
	Columns: map[string]int{
		FieldWeight:       2,
		FieldWeightTime:   3,
		FieldSleepHours:   4,
		FieldSleepQuality: 5,
		FieldSteps:        6,
		FieldCardio:       7,
		FieldTraining:     8,
		FieldEnergy:       9,
		FieldMood:         10,
		FieldSatiety:      11,
		FieldDigestion:    12,
		FieldWater:        13,
		FieldCalories:     14,
		FieldProtein:      15,
		FieldCarbs:        16,
		FieldFat:          17,
		FieldFiber:        18,
	},
}

// SchemaByName maps a bot profile's schema type to its Schema.
func SchemaByName(name string) (Schema, error) {
	switch name {
	case "", Template.Name:
		return Template, nil
	case Legacy.Name:
		return Legacy, nil
	default:
		return Schema{}, fmt.Errorf("unknown sheet schema %q", name)
	}
}
