package bot

import (
	"fmt"
	"strconv"
	"strings"

	"macrolog/internal/sheetlog"
)

// ValidationError describes a user-supplied value that didn't validate. Its
// message is shown to the user as-is, so it has to say how to fix the input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Metric is one loggable daily health value. Parse validates user input and
// maps it to sheet field updates; metric fields always overwrite.
type Metric struct {
	// Key is the word users type to pick the metric.
	Key string
	// Prompt is shown when a guided session asks for the value.
	Prompt string
	// Parse validates the input and returns sheet field updates. It returns
	// a *ValidationError for malformed input.
	Parse func(input string) (map[string]any, error)
}

// metrics is the catalog of loggable values, in menu order. "meal" is not a
// metric: it routes through the nutrition pipeline instead.
var metrics = []Metric{
	{
		Key:    "weight",
		Prompt: "Your weight in kg, optionally with the time of weighing (e.g. <code>80.5</code> or <code>80.5 08:30</code>):",
		Parse:  parseWeight,
	},
	{
		Key:    "sleep",
		Prompt: "Hours slept, optionally with quality 1-10 (e.g. <code>7.5</code> or <code>7.5 8</code>):",
		Parse:  parseSleep,
	},
	{
		Key:    "steps",
		Prompt: "Step count for the day:",
		Parse:  parseSteps,
	},
	{
		Key:    "cardio",
		Prompt: "Describe your cardio (e.g. <code>30 min bike</code>):",
		Parse:  textMetric(sheetlog.FieldCardio),
	},
	{
		Key:    "training",
		Prompt: "Describe your training session:",
		Parse:  textMetric(sheetlog.FieldTraining),
	},
	{
		Key:    "wellness",
		Prompt: "Four numbers: energy 1-10, mood 1-10, satiety 1-10, digestion 0-7 (e.g. <code>7 8 5 1</code>):",
		Parse:  parseWellness,
	},
	{
		Key:    "water",
		Prompt: "Water drunk in liters:",
		Parse:  parseWater,
	},
}

// MetricByKey finds a catalog entry by its user-facing key.
func MetricByKey(key string) (Metric, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, m := range metrics {
		if m.Key == key {
			return m, true
		}
	}
	return Metric{}, false
}

// MetricKeys lists the catalog keys in menu order.
func MetricKeys() []string {
	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = m.Key
	}
	return keys
}

func parseWeight(input string) (map[string]any, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, invalidf("Send your weight like <code>80.5</code>, optionally followed by a time like <code>80.5 08:30</code>.")
	}
	w, err := parseNumber(fields[0])
	if err != nil || w < 20 || w > 400 {
		return nil, invalidf("Weight must be a number between 20 and 400 kg.")
	}
	updates := map[string]any{sheetlog.FieldWeight: w}
	if len(fields) == 2 {
		if !validClockTime(fields[1]) {
			return nil, invalidf("The time of weighing must look like <code>08:30</code>.")
		}
		updates[sheetlog.FieldWeightTime] = fields[1]
	}
	return updates, nil
}

func parseSleep(input string) (map[string]any, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, invalidf("Send hours slept like <code>7.5</code>, optionally with quality 1-10 like <code>7.5 8</code>.")
	}
	h, err := parseNumber(fields[0])
	if err != nil || h < 0 || h > 24 {
		return nil, invalidf("Hours slept must be a number between 0 and 24.")
	}
	updates := map[string]any{sheetlog.FieldSleepHours: h}
	if len(fields) == 2 {
		q, err := parseNumber(fields[1])
		if err != nil || q < 1 || q > 10 || q != float64(int(q)) {
			return nil, invalidf("Sleep quality must be a whole number between 1 and 10.")
		}
		updates[sheetlog.FieldSleepQuality] = q
	}
	return updates, nil
}

func parseSteps(input string) (map[string]any, error) {
	v, err := parseNumber(strings.TrimSpace(input))
	if err != nil || v < 0 || v > 200000 || v != float64(int(v)) {
		return nil, invalidf("Steps must be a whole number between 0 and 200000.")
	}
	return map[string]any{sheetlog.FieldSteps: v}, nil
}

func parseWellness(input string) (map[string]any, error) {
	fields := strings.Fields(input)
	if len(fields) != 4 {
		return nil, invalidf("Send four numbers: energy 1-10, mood 1-10, satiety 1-10, digestion 0-7.")
	}
	vals := make([]float64, 4)
	for i, f := range fields {
		v, err := parseNumber(f)
		if err != nil || v != float64(int(v)) {
			return nil, invalidf("Wellness values must be whole numbers.")
		}
		vals[i] = v
	}
	for i, name := range []string{"energy", "mood", "satiety"} {
		if vals[i] < 1 || vals[i] > 10 {
			return nil, invalidf("The %s score must be between 1 and 10.", name)
		}
	}
	if vals[3] < 0 || vals[3] > 7 {
		return nil, invalidf("The digestion score must be between 0 and 7.")
	}
	return map[string]any{
		sheetlog.FieldEnergy:    vals[0],
		sheetlog.FieldMood:      vals[1],
		sheetlog.FieldSatiety:   vals[2],
		sheetlog.FieldDigestion: vals[3],
	}, nil
}

func parseWater(input string) (map[string]any, error) {
	v, err := parseNumber(strings.TrimSpace(input))
	if err != nil || v < 0 || v > 20 {
		return nil, invalidf("Water must be a number of liters between 0 and 20.")
	}
	return map[string]any{sheetlog.FieldWater: v}, nil
}

func textMetric(field string) func(string) (map[string]any, error) {
	return func(input string) (map[string]any, error) {
		input = strings.TrimSpace(input)
		if input == "" {
			return nil, invalidf("Send a short description.")
		}
		return map[string]any{field: input}, nil
	}
}

// parseNumber accepts both dot and comma decimal separators.
func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func validClockTime(s string) bool {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return false
	}
	return true
}
