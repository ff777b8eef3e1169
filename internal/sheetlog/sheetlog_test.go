package sheetlog

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"macrolog/internal/api/google/serviceaccount"
	"macrolog/internal/api/sheets"
	"macrolog/internal/testutil"
)

func testKey(t *testing.T) *serviceaccount.Key {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	return &serviceaccount.Key{
		Type:        "service_account",
		PrivateKey:  string(pemBytes),
		ClientEmail: "macrolog@test.iam.gserviceaccount.com",
		TokenURI:    "https://oauth2.googleapis.com/token",
	}
}

// fakeSheet is an in-memory worksheet served over the Sheets API surface the
// client uses: values get, values batchUpdate and values append.
type fakeSheet struct {
	mu   sync.Mutex
	rows [][]any
}

func (f *fakeSheet) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST oauth2.googleapis.com/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "test-token"}`)
	})

	mux.HandleFunc("GET sheets.googleapis.com/v4/spreadsheets/{id}/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := json.NewEncoder(w).Encode(sheets.ValueRange{Values: f.rows}); err != nil {
			t.Error(err)
		}
	})

	mux.HandleFunc("POST sheets.googleapis.com/v4/spreadsheets/{id}/values:batchUpdate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data []sheets.ValueRange `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, vr := range req.Data {
			col, row, err := parseCellRef(vr.Range)
			if err != nil {
				t.Error(err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.setCell(row, col, vr.Values[0][0])
		}
		fmt.Fprint(w, `{}`)
	})

	mux.HandleFunc("POST sheets.googleapis.com/v4/spreadsheets/{id}/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.PathValue("range"), ":append") {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var req struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.rows = append(f.rows, req.Values...)
		fmt.Fprint(w, `{}`)
	})

	return mux
}

func (f *fakeSheet) setCell(row, col int, value any) {
	for len(f.rows) <= row {
		f.rows = append(f.rows, nil)
	}
	for len(f.rows[row]) <= col {
		f.rows[row] = append(f.rows[row], "")
	}
	f.rows[row][col] = value
}

// parseCellRef parses a single-cell A1 reference like "Log!N5" into 0-based
// column and row indices.
func parseCellRef(ref string) (col, row int, err error) {
	if _, cell, ok := strings.Cut(ref, "!"); ok {
		ref = cell
	}
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("malformed cell reference %q", ref)
	}
	n, err := strconv.Atoi(ref[i:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cell reference %q: %v", ref, err)
	}
	return col - 1, n - 1, nil
}

func testStore(t *testing.T, sheet *fakeSheet) *Store {
	t.Helper()
	return &Store{
		Sheets: &sheets.Client{
			Key:        testKey(t),
			HTTPClient: testutil.MockHTTPClient(sheet.handler(t)),
		},
		Logf: t.Logf,
	}
}

var testDate = time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)

func TestUpsertRowCreatesMissingRow(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date", "Weight"}}}
	s := testStore(t, sheet)

	err := s.UpsertRow(t.Context(), "sheet1", "Log", Template, testDate, map[string]FieldUpdate{
		FieldWeight:   {Value: 81.5},
		FieldCalories: {Value: 500.0},
	})
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, len(sheet.rows), 2)
	row := sheet.rows[1]
	testutil.AssertEqual(t, row[Template.DateColumn], any("28.08.2026"))
	testutil.AssertEqual(t, row[Template.Columns[FieldWeight]], any(81.5))
	testutil.AssertEqual(t, row[Template.Columns[FieldCalories]], any(500.0))
}

func TestUpsertRowOverwriteVsAdditive(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date"}}}
	s := testStore(t, sheet)
	ctx := t.Context()

	// First log of the day.
	if err := s.UpsertRow(ctx, "sheet1", "Log", Template, testDate, map[string]FieldUpdate{
		FieldWeight:   {Value: 80.0},
		FieldCalories: {Value: 500.0},
	}); err != nil {
		t.Fatal(err)
	}
	// Weight gets re-logged (overwrite), a second meal adds calories.
	if err := s.UpsertRow(ctx, "sheet1", "Log", Template, testDate, map[string]FieldUpdate{
		FieldWeight:   {Value: 82.0},
		FieldCalories: {Value: 300.0},
	}); err != nil {
		t.Fatal(err)
	}

	fields, found, err := s.ReadRow(ctx, "sheet1", "Log", Template, testDate)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, found, true)
	testutil.AssertEqual(t, fields[FieldWeight], any(82.0))
	testutil.AssertEqual(t, fields[FieldCalories], any(800.0))
}

func TestUpsertRowAdditiveTolerantOfTextCells(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date"}}}
	s := testStore(t, sheet)
	date := testDate

	row := make([]any, Template.width())
	for i := range row {
		row[i] = ""
	}
	row[Template.DateColumn] = date.Format(DateLayout)
	row[Template.Columns[FieldCalories]] = "n/a"
	sheet.rows = append(sheet.rows, row)

	if err := s.UpsertRow(t.Context(), "sheet1", "Log", Template, date, map[string]FieldUpdate{
		FieldCalories: {Value: 250.0},
	}); err != nil {
		t.Fatal(err)
	}

	fields, _, err := s.ReadRow(t.Context(), "sheet1", "Log", Template, date)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, fields[FieldCalories], any(250.0))
}

func TestReadRowMissingDate(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date"}}}
	s := testStore(t, sheet)

	_, found, err := s.ReadRow(t.Context(), "sheet1", "Log", Template, testDate)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, found, false)
}

func TestLegacySchemaSkipsHeaderRows(t *testing.T) {
	t.Parallel()

	// Legacy sheets keep eight decorative rows above the data, and one of
	// them mentions a date-like string that must not be picked up.
	rows := make([][]any, 9)
	for i := range rows {
		rows[i] = []any{"", "28.08.2026 is when this sheet was made"}
	}
	sheet := &fakeSheet{rows: rows}
	s := testStore(t, sheet)

	if err := s.UpsertRow(t.Context(), "sheet1", "Log", Legacy, testDate, map[string]FieldUpdate{
		FieldSteps: {Value: 9000.0},
	}); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, len(sheet.rows), 10)
	testutil.AssertEqual(t, sheet.rows[9][Legacy.DateColumn], any("28.08.2026"))
	testutil.AssertEqual(t, sheet.rows[9][Legacy.Columns[FieldSteps]], any(9000.0))
}

func TestConcurrentUpsertsSameDate(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date"}}}
	s := testStore(t, sheet)
	ctx := t.Context()

	// Create the row first so every concurrent write goes down the
	// read-modify-write path.
	if err := s.UpsertRow(ctx, "sheet1", "Log", Template, testDate, map[string]FieldUpdate{
		FieldCalories: {Value: 0.0},
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.UpsertRow(ctx, "sheet1", "Log", Template, testDate, map[string]FieldUpdate{
				FieldCalories: {Value: 100.0},
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	fields, _, err := s.ReadRow(ctx, "sheet1", "Log", Template, testDate)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, fields[FieldCalories], any(1000.0))
}

func TestDailySummary(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date"}}}
	s := testStore(t, sheet)
	ctx := t.Context()

	if err := s.UpsertRow(ctx, "sheet1", "Log", Template, testDate, map[string]FieldUpdate{
		FieldCalories: {Value: 1800.0},
		FieldProtein:  {Value: 120.0},
		FieldSteps:    {Value: 11000.0},
		FieldWeight:   {Value: 80.5},
	}); err != nil {
		t.Fatal(err)
	}

	sum, err := s.Daily(ctx, "sheet1", "Log", Template, testDate)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.Found, true)
	testutil.AssertEqual(t, sum.Macros.CaloriesKcal, 1800.0)
	testutil.AssertEqual(t, sum.Macros.ProteinG, 120.0)
	testutil.AssertEqual(t, sum.Steps, 11000.0)
	testutil.AssertEqual(t, sum.Weight, 80.5)

	missing, err := s.Daily(ctx, "sheet1", "Log", Template, testDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, missing.Found, false)
}

func TestWeeklySummary(t *testing.T) {
	t.Parallel()

	sheet := &fakeSheet{rows: [][]any{{"Date"}}}
	s := testStore(t, sheet)
	ctx := t.Context()

	weekStart := time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC)
	// Three days of data out of seven; day three has a non-numeric steps
	// cell that must be skipped, not averaged as zero steps.
	for i, day := range []struct {
		calories float64
		steps    any
	}{
		{2000, 10000.0},
		{1500, 8000.0},
		{1000, "forgot my phone"},
	} {
		date := weekStart.AddDate(0, 0, i)
		if err := s.UpsertRow(ctx, "sheet1", "Log", Template, date, map[string]FieldUpdate{
			FieldCalories: {Value: day.calories},
			FieldSteps:    {Value: day.steps},
		}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Weekly(ctx, "sheet1", "Log", Template, weekStart)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.DaysWithData, 3)
	testutil.AssertEqual(t, sum.AvgMacros.CaloriesKcal, 1500.0)
	testutil.AssertEqual(t, sum.AvgSteps, 6000.0)
}

func TestSchemaByName(t *testing.T) {
	t.Parallel()

	s, err := SchemaByName("legacy")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.Name, "legacy")

	s, err = SchemaByName("")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.Name, "template")

	if _, err := SchemaByName("v3"); err == nil {
		t.Fatal("want error for unknown schema")
	}
}
