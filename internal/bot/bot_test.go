package bot

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"macrolog/internal/api/gemini"
	"macrolog/internal/api/google/serviceaccount"
	"macrolog/internal/api/sheets"
	"macrolog/internal/api/usda"
	"macrolog/internal/config"
	"macrolog/internal/meal"
	"macrolog/internal/nutrition"
	"macrolog/internal/session"
	"macrolog/internal/sheetlog"
	"macrolog/internal/testutil"
)

const (
	testToken  = "123456:TEST"
	testSecret = "test-secret"
)

var testToday = time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)

// fixture fakes every external API the bot talks to: Telegram, Gemini, the
// nutrition database, the OAuth token endpoint and the Sheets values API.
type fixture struct {
	bot *Bot
	mux *http.ServeMux

	mu         sync.Mutex
	sent       []string // texts passed to sendMessage
	gemini     []string // queued generateContent replies
	rows       [][]any  // the fake worksheet
	sheetsDown bool     // Sheets write endpoints answer 500 when set
	foods      map[string][]map[string]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		mux:  http.NewServeMux(),
		rows: [][]any{{"Date"}},
		foods: map[string][]map[string]any{
			"chicken breast": {usdaFood(171077, "Chicken breast, grilled", 165, 31, 0, 3.6, 0)},
			"broccoli":       {usdaFood(170379, "Broccoli, raw", 35, 2.4, 7.2, 0.4, 3.3)},
		},
	}
	fx.registerTelegram(t)
	fx.registerGemini(t)
	fx.registerUSDA(t)
	fx.registerSheets(t)

	httpc := testutil.MockHTTPClient(fx.mux)
	profiles, err := config.Load([]byte(fmt.Sprintf(`[{
		"name": "test",
		"token": %q,
		"sheet_id": "sheet1",
		"worksheet": "Log",
		"allowed_users": [100]
	}]`, testToken)))
	if err != nil {
		t.Fatal(err)
	}

	gem := &gemini.Client{APIKey: "gk", Model: "gemini-2.5-flash", HTTPClient: httpc}
	resolver := &nutrition.Resolver{
		Provider: nutrition.USDAProvider{Client: &usda.Client{APIKey: "uk", HTTPClient: httpc}},
		Logf:     t.Logf,
	}
	fx.bot = &Bot{
		Profiles:      profiles,
		WebhookSecret: testSecret,
		Interpreter:   &meal.Interpreter{Generator: gem},
		Aggregator:    &nutrition.Aggregator{Resolver: resolver},
		Store:         &sheetlog.Store{Sheets: &sheets.Client{Key: testKey(t), HTTPClient: httpc}, Logf: t.Logf},
		Sessions:      session.NewManager(session.DefaultTimeout),
		HTTPClient:    httpc,
		Logf:          t.Logf,
		now:           func() time.Time { return testToday },
	}
	return fx
}

func usdaFood(id int64, desc string, kcal, protein, carbs, fat, fiber float64) map[string]any {
	nutrient := func(id int64, v float64) map[string]any {
		return map[string]any{"nutrientId": id, "value": v}
	}
	return map[string]any{
		"fdcId":       id,
		"description": desc,
		"foodNutrients": []map[string]any{
			nutrient(1008, kcal), nutrient(1003, protein), nutrient(1005, carbs),
			nutrient(1004, fat), nutrient(1079, fiber),
		},
	}
}

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
		PrivateKey:  string(pemBytes),
		ClientEmail: "macrolog@test.iam.gserviceaccount.com",
		TokenURI:    "https://oauth2.googleapis.com/token",
	}
}

func (fx *fixture) registerTelegram(t *testing.T) {
	fx.mux.HandleFunc("POST api.telegram.org/{token}/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
			return
		}
		msg := testutil.UnmarshalJSON[outgoingMessage](t, body)
		fx.mu.Lock()
		fx.sent = append(fx.sent, msg.Text)
		fx.mu.Unlock()
		fmt.Fprint(w, `{"ok": true}`)
	})
	fx.mux.HandleFunc("POST api.telegram.org/{token}/getFile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "result": {"file_path": "voice/file_1.oga"}}`)
	})
	fx.mux.HandleFunc("GET api.telegram.org/file/{token}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake media bytes"))
	})
}

func (fx *fixture) registerGemini(t *testing.T) {
	fx.mux.HandleFunc("POST generativelanguage.googleapis.com/v1beta/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		var reply string
		if len(fx.gemini) > 0 {
			reply = fx.gemini[0]
			fx.gemini = fx.gemini[1:]
		}
		fx.mu.Unlock()
		if reply == "" {
			t.Error("unexpected Gemini call: no queued reply")
			http.Error(w, "no queued reply", http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": reply}}}},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Error(err)
		}
	})
}

func (fx *fixture) registerUSDA(t *testing.T) {
	fx.mux.HandleFunc("GET api.nal.usda.gov/fdc/v1/foods/search", func(w http.ResponseWriter, r *http.Request) {
		query := strings.ToLower(r.URL.Query().Get("query"))
		fx.mu.Lock()
		foods := fx.foods[query]
		fx.mu.Unlock()
		if err := json.NewEncoder(w).Encode(map[string]any{"foods": foods}); err != nil {
			t.Error(err)
		}
	})
}

func (fx *fixture) registerSheets(t *testing.T) {
	fx.mux.HandleFunc("POST oauth2.googleapis.com/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "test-token"}`)
	})
	fx.mux.HandleFunc("GET sheets.googleapis.com/v4/spreadsheets/{id}/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		if err := json.NewEncoder(w).Encode(sheets.ValueRange{Values: fx.rows}); err != nil {
			t.Error(err)
		}
	})
	fx.mux.HandleFunc("POST sheets.googleapis.com/v4/spreadsheets/{id}/values:batchUpdate", func(w http.ResponseWriter, r *http.Request) {
		if fx.writesDown() {
			http.Error(w, "backend error", http.StatusInternalServerError)
			return
		}
		var req struct {
			Data []sheets.ValueRange `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		fx.mu.Lock()
		defer fx.mu.Unlock()
		for _, vr := range req.Data {
			col, row := mustParseCellRef(t, vr.Range)
			for len(fx.rows) <= row {
				fx.rows = append(fx.rows, nil)
			}
			for len(fx.rows[row]) <= col {
				fx.rows[row] = append(fx.rows[row], "")
			}
			fx.rows[row][col] = vr.Values[0][0]
		}
		fmt.Fprint(w, `{}`)
	})
	fx.mux.HandleFunc("POST sheets.googleapis.com/v4/spreadsheets/{id}/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		if fx.writesDown() {
			http.Error(w, "backend error", http.StatusInternalServerError)
			return
		}
		var req struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		fx.mu.Lock()
		defer fx.mu.Unlock()
		fx.rows = append(fx.rows, req.Values...)
		fmt.Fprint(w, `{}`)
	})
}

func mustParseCellRef(t *testing.T, ref string) (col, row int) {
	t.Helper()
	if _, cell, ok := strings.Cut(ref, "!"); ok {
		ref = cell
	}
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	n, err := strconv.Atoi(ref[i:])
	if err != nil {
		t.Fatalf("malformed cell reference %q", ref)
	}
	return col - 1, n - 1
}

// setSheetsDown makes the fake Sheets write endpoints fail with a server
// error; reads keep working.
func (fx *fixture) setSheetsDown(down bool) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.sheetsDown = down
}

func (fx *fixture) writesDown() bool {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.sheetsDown
}

func (fx *fixture) queueGemini(replies ...string) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.gemini = append(fx.gemini, replies...)
}

func (fx *fixture) lastSent(t *testing.T) string {
	t.Helper()
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.sent) == 0 {
		t.Fatal("no messages were sent")
	}
	return fx.sent[len(fx.sent)-1]
}

func (fx *fixture) rowFor(date time.Time) []any {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	want := date.Format(sheetlog.DateLayout)
	for _, row := range fx.rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == want {
			return row
		}
	}
	return nil
}

// message delivers a webhook update as Telegram would and returns the HTTP
// status code.
func (fx *fixture) message(t *testing.T, secret, token, text string) int {
	t.Helper()
	return fx.update(t, secret, token, map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"from": map[string]any{"id": 100},
			"chat": map[string]any{"id": 100},
			"text": text,
		},
	})
}

func (fx *fixture) update(t *testing.T, secret, token string, upd map[string]any) int {
	t.Helper()
	body, err := json.Marshal(upd)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram/{token}", fx.bot.HandleWebhook)

	req := httptest.NewRequest(http.MethodPost, "/telegram/"+url.PathEscape(token), strings.NewReader(string(body)))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w.Code
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	code := fx.message(t, "wrong-secret", testToken, "/help")
	testutil.AssertEqual(t, code, http.StatusNotFound)
	testutil.AssertEqual(t, len(fx.sent), 0)
}

func TestWebhookRejectsUnknownToken(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	code := fx.message(t, testSecret, "999:NOPE", "/help")
	testutil.AssertEqual(t, code, http.StatusNotFound)
}

func TestDisallowedUserIsRefused(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	code := fx.update(t, testSecret, testToken, map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"from": map[string]any{"id": 999},
			"chat": map[string]any{"id": 999},
			"text": "/help",
		},
	})
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertContains(t, fx.lastSent(t), "private")
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.message(t, testSecret, testToken, "/help")
	testutil.AssertContains(t, fx.lastSent(t), "/newlog")
}

func TestDirectMealLog(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.queueGemini(`[{"name": "chicken breast", "quantity": 150, "unit": "g"},
	                 {"name": "broccoli", "quantity": 1, "unit": "cup"}]`)

	fx.message(t, testSecret, testToken, "150g chicken and 1 cup broccoli")

	// 150 g at 165 kcal/100g plus 240 g (one cup) at 35 kcal/100g.
	row := fx.rowFor(testToday)
	if row == nil {
		t.Fatal("no row was written for today")
	}
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldCalories]], any(331.5))
	testutil.AssertContains(t, fx.lastSent(t), "kcal")
}

func TestDirectMealLogAddsToExistingCalories(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.queueGemini(`[{"name": "chicken breast", "quantity": 100, "unit": "g"}]`)
	fx.message(t, testSecret, testToken, "/log meal 100g chicken breast")
	fx.queueGemini(`[{"name": "chicken breast", "quantity": 100, "unit": "g"}]`)
	fx.message(t, testSecret, testToken, "/log meal 100g chicken breast")

	row := fx.rowFor(testToday)
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldCalories]], any(330.0))
}

func TestDirectMetricLogOverwrites(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/log weight 80.5")
	fx.message(t, testSecret, testToken, "/log weight 82")

	row := fx.rowFor(testToday)
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldWeight]], any(82.0))
}

func TestDirectLogForPastDate(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/log yesterday steps 9000")

	row := fx.rowFor(testToday.AddDate(0, 0, -1))
	if row == nil {
		t.Fatal("no row was written for yesterday")
	}
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldSteps]], any(9000.0))
}

func TestDirectLogInvalidValue(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/log weight 900")
	testutil.AssertContains(t, fx.lastSent(t), "between 20 and 400")
	testutil.AssertEqual(t, fx.rowFor(testToday) == nil, true)
}

func TestDirectLogStoreFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.setSheetsDown(true)

	fx.message(t, testSecret, testToken, "/log weight 80.5")
	testutil.AssertContains(t, fx.lastSent(t), "Saving to the sheet failed")
	testutil.AssertEqual(t, fx.rowFor(testToday) == nil, true)
}

func TestMealWithUnresolvedItems(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.queueGemini(`[{"name": "chicken breast", "quantity": 100, "unit": "g"},
	                 {"name": "unicorn salad", "quantity": 1, "unit": "serving"}]`)

	fx.message(t, testSecret, testToken, "chicken and unicorn salad")

	reply := fx.lastSent(t)
	testutil.AssertContains(t, reply, "unicorn salad")
	row := fx.rowFor(testToday)
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldCalories]], any(165.0))
}

func TestGuidedSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/newlog")
	testutil.AssertContains(t, fx.lastSent(t), "What do you want to log")

	fx.message(t, testSecret, testToken, "weight")
	testutil.AssertContains(t, fx.lastSent(t), "weight in kg")

	fx.message(t, testSecret, testToken, "80.5")
	testutil.AssertContains(t, fx.lastSent(t), "more")

	fx.message(t, testSecret, testToken, "more")
	fx.message(t, testSecret, testToken, "meal")
	fx.queueGemini(`[{"name": "broccoli", "quantity": 1, "unit": "cup"}]`)
	fx.message(t, testSecret, testToken, "a cup of broccoli")
	testutil.AssertContains(t, fx.lastSent(t), "kcal")

	// Nothing hits the sheet until finish.
	testutil.AssertEqual(t, fx.rowFor(testToday) == nil, true)

	fx.message(t, testSecret, testToken, "finish")
	testutil.AssertContains(t, fx.lastSent(t), "Saved")

	row := fx.rowFor(testToday)
	if row == nil {
		t.Fatal("commit did not write a row")
	}
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldWeight]], any(80.5))
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldCalories]], any(84.0))
}

func TestGuidedSessionInvalidValueKeepsState(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/newlog")
	fx.message(t, testSecret, testToken, "steps")
	fx.message(t, testSecret, testToken, "lots")
	testutil.AssertContains(t, fx.lastSent(t), "whole number")

	// Still awaiting the value; a correct retry is accepted.
	fx.message(t, testSecret, testToken, "9000")
	testutil.AssertContains(t, fx.lastSent(t), "more")
}

func TestGuidedSessionCancelWritesNothing(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/newlog")
	fx.message(t, testSecret, testToken, "weight")
	fx.message(t, testSecret, testToken, "80.5")
	fx.message(t, testSecret, testToken, "/cancel")
	testutil.AssertContains(t, fx.lastSent(t), "Cancelled")

	testutil.AssertEqual(t, fx.rowFor(testToday) == nil, true)
	testutil.AssertEqual(t, fx.bot.Sessions.Active(100), false)
}

func TestGuidedSessionCommitFailureKeepsSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/newlog")
	fx.message(t, testSecret, testToken, "weight")
	fx.message(t, testSecret, testToken, "80.5")

	fx.setSheetsDown(true)
	fx.message(t, testSecret, testToken, "finish")
	reply := fx.lastSent(t)
	testutil.AssertContains(t, reply, "entries are kept")
	testutil.AssertNotContains(t, reply, "Saved")

	// Nothing partial was written and the session is still open for a retry.
	testutil.AssertEqual(t, fx.rowFor(testToday) == nil, true)
	testutil.AssertEqual(t, fx.bot.Sessions.Active(100), true)

	fx.setSheetsDown(false)
	fx.message(t, testSecret, testToken, "finish")
	testutil.AssertContains(t, fx.lastSent(t), "Saved")

	row := fx.rowFor(testToday)
	if row == nil {
		t.Fatal("retried commit did not write a row")
	}
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldWeight]], any(80.5))
	testutil.AssertEqual(t, fx.bot.Sessions.Active(100), false)
}

func TestCancelWithoutSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/cancel")
	testutil.AssertContains(t, fx.lastSent(t), "Nothing to cancel")
}

func TestNewlogDiscardsPreviousSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/newlog")
	fx.message(t, testSecret, testToken, "weight")
	fx.message(t, testSecret, testToken, "/newlog")
	testutil.AssertContains(t, fx.lastSent(t), "Discarded")
}

func TestDailySummaryCommand(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/log weight 80.5")
	fx.queueGemini(`[{"name": "chicken breast", "quantity": 100, "unit": "g"}]`)
	fx.message(t, testSecret, testToken, "/log meal 100g chicken breast")

	fx.message(t, testSecret, testToken, "/daily_summary")
	reply := fx.lastSent(t)
	testutil.AssertContains(t, reply, "165")
	testutil.AssertContains(t, reply, "80.5")
}

func TestWeeklySummaryCommandEmpty(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.message(t, testSecret, testToken, "/weekly_summary")
	testutil.AssertContains(t, fx.lastSent(t), "Nothing logged")
}

func TestVoiceMessageLogsMeal(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.queueGemini(
		"I ate 100 grams of chicken breast.",
		`[{"name": "chicken breast", "quantity": 100, "unit": "g"}]`,
	)

	fx.update(t, testSecret, testToken, map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"from":  map[string]any{"id": 100},
			"chat":  map[string]any{"id": 100},
			"voice": map[string]any{"file_id": "voice-1", "mime_type": "audio/ogg"},
		},
	})

	row := fx.rowFor(testToday)
	if row == nil {
		t.Fatal("no row was written")
	}
	testutil.AssertEqual(t, row[sheetlog.Template.Columns[sheetlog.FieldCalories]], any(165.0))
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		cmd, arg string
		ok       bool
	}{
		{"/log weight 80.5", "log", "weight 80.5", true},
		{"/help", "help", "", true},
		{"/HELP@somebot", "help", "", true},
		{"hello", "", "", false},
	}
	for _, tc := range cases {
		cmd, args, ok := parseCommand(tc.in)
		testutil.AssertEqual(t, ok, tc.ok)
		testutil.AssertEqual(t, cmd, tc.cmd)
		testutil.AssertEqual(t, args, tc.arg)
	}
}

func TestParseDateArg(t *testing.T) {
	t.Parallel()

	got, ok := parseDateArg("yesterday", testToday)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, got, testToday.AddDate(0, 0, -1))

	got, ok = parseDateArg("2026-08-20", testToday)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, got, time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC))

	if _, ok := parseDateArg("weight", testToday); ok {
		t.Fatal("a metric name must not parse as a date")
	}
}

func TestWeekStart(t *testing.T) {
	t.Parallel()

	// 2026-08-28 is a Friday; its week starts Monday the 24th.
	testutil.AssertEqual(t, weekStart(testToday), time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC))
	// A Monday is its own week start.
	monday := time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC)
	testutil.AssertEqual(t, weekStart(monday), monday)
}
