// Package bot is the Telegram-facing surface of the health log.
//
// It routes webhook updates to the right bot profile, enforces the per-bot
// allow-list, dispatches commands and guided-session turns, and renders
// results back into chat messages. The actual work happens in the meal,
// nutrition, session and sheetlog packages.
package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"macrolog/internal/config"
	"macrolog/internal/logger"
	"macrolog/internal/meal"
	"macrolog/internal/nutrition"
	"macrolog/internal/session"
	"macrolog/internal/sheetlog"
	"macrolog/internal/web"
)

// Bot serves every configured bot profile from one process.
type Bot struct {
	// Profiles are the configured bots.
	Profiles []config.BotProfile
	// WebhookSecret is checked against X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string

	// Interpreter decomposes meal descriptions into items.
	Interpreter *meal.Interpreter
	// Aggregator resolves and sums a meal's items.
	Aggregator *nutrition.Aggregator
	// Store reads and writes the daily log rows.
	Store *sheetlog.Store
	// Sessions owns the guided logging conversations.
	Sessions *session.Manager

	// HTTPClient is used for Telegram API calls. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber masks secrets in error messages.
	Scrubber *strings.Replacer
	// Logf is the engine log. Defaults to a no-op.
	Logf logger.Logf
	// SLog is the structured pipeline log. Defaults to slog.Default.
	SLog *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

func (b *Bot) slog() *slog.Logger {
	if b.SLog != nil {
		return b.SLog
	}
	return slog.Default()
}

func (b *Bot) logf(format string, args ...any) {
	if b.Logf != nil {
		b.Logf(format, args...)
	}
}

func (b *Bot) today() time.Time {
	nowf := b.now
	if nowf == nil {
		nowf = time.Now
	}
	y, m, d := nowf().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HandleWebhook is the HTTP handler for POST /telegram/{token}. The token
// path segment routes the update to its bot profile.
func (b *Bot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != b.WebhookSecret {
		web.RespondJSONError(b.Logf, w, web.ErrNotFound)
		return
	}
	profile, err := config.ByToken(b.Profiles, r.PathValue("token"))
	if err != nil {
		web.RespondJSONError(b.Logf, w, web.ErrNotFound)
		return
	}

	var upd Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		web.RespondJSONError(b.Logf, w, web.ErrBadRequest)
		return
	}

	b.handleUpdate(r.Context(), profile, &upd)
	web.RespondJSON(w, map[string]string{"status": "ok"})
}

// handleUpdate processes one update to completion and sends the reply.
func (b *Bot) handleUpdate(ctx context.Context, profile *config.BotProfile, upd *Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID

	if !profile.Allowed(msg.From.ID) {
		b.slog().Info("rejected disallowed user", "bot", profile.Name, "user_id", msg.From.ID)
		b.reply(ctx, profile, chatID, "Sorry, this bot is private.")
		return
	}

	reply := b.dispatch(ctx, profile, msg)
	if reply != "" {
		b.reply(ctx, profile, chatID, reply)
	}
}

func (b *Bot) dispatch(ctx context.Context, profile *config.BotProfile, msg *Message) string {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if cmd, args, ok := parseCommand(text); ok {
		switch cmd {
		case "start", "help":
			return helpMessage
		case "cancel":
			return b.HandleCancel(chatID)
		case "newlog":
			return b.HandleNewLogTurn(ctx, profile, chatID, turnInput{Text: "/newlog"})
		case "log":
			return b.handleLogCommand(ctx, profile, chatID, args)
		case "daily_summary":
			return b.DailySummary(ctx, profile, b.today())
		case "weekly_summary":
			// The week of today, starting Monday.
			return b.WeeklySummary(ctx, profile, weekStart(b.today()))
		default:
			return "I don't know that command. Send /help for what I can do."
		}
	}

	input := turnInput{Text: text, Caption: msg.Caption}
	if photo, ok := largestPhoto(msg.Photo); ok {
		input.PhotoFileID = photo.FileID
	}
	if msg.Voice != nil {
		input.VoiceFileID = msg.Voice.FileID
		input.VoiceMIMEType = msg.Voice.MIMEType
	}

	if b.Sessions.Active(chatID) {
		return b.HandleNewLogTurn(ctx, profile, chatID, input)
	}

	// Outside a session, anything that looks like food is logged as a meal
	// for today.
	if input.PhotoFileID == "" && input.VoiceFileID == "" && text == "" {
		return ""
	}
	return b.logMeal(ctx, profile, chatID, b.today(), input)
}

func (b *Bot) reply(ctx context.Context, profile *config.BotProfile, chatID int64, text string) {
	if err := b.send(ctx, profile.Token, chatID, text); err != nil {
		b.logf("bot %s: sending reply to chat %d failed: %v", profile.Name, chatID, err)
	}
}

// parseCommand splits "/log weight 80.5" into "log" and "weight 80.5".
// Commands addressed to other bots ("/log@otherbot") are matched too, since
// each profile has its own webhook path.
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, args, _ = strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args), cmd != ""
}

// weekStart returns the Monday of date's week.
func weekStart(date time.Time) time.Time {
	offset := (int(date.Weekday()) + 6) % 7
	return date.AddDate(0, 0, -offset)
}
