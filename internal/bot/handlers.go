package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"macrolog/internal/config"
	"macrolog/internal/meal"
	"macrolog/internal/nutrition"
	"macrolog/internal/session"
	"macrolog/internal/sheetlog"
)

const helpMessage = `I keep your daily health log in a spreadsheet.

<b>Direct commands</b>
/log [date] &lt;metric&gt; &lt;value&gt; — log one value, e.g. <code>/log weight 80.5</code> or <code>/log yesterday steps 9000</code>
/log [date] meal &lt;description&gt; — log a meal, e.g. <code>/log meal 150g chicken and rice</code>
/newlog — start a guided logging session
/cancel — discard the current session
/daily_summary — today's totals
/weekly_summary — this week's averages

Metrics: weight, sleep, steps, cardio, training, wellness, water.

Outside a session, any text, photo or voice message is logged as a meal for today.`

// turnInput is one user turn: typed text, a photo or a voice message.
type turnInput struct {
	Text          string
	Caption       string
	PhotoFileID   string
	VoiceFileID   string
	VoiceMIMEType string
}

// handleLogCommand parses "/log [date] <metric|meal> <value…>" arguments and
// runs the direct log.
func (b *Bot) handleLogCommand(ctx context.Context, profile *config.BotProfile, chatID int64, args string) string {
	first, rest, _ := strings.Cut(args, " ")
	if first == "" {
		return "Usage: <code>/log [date] &lt;metric|meal&gt; &lt;value&gt;</code>. Send /help for the metric list."
	}

	date := b.today()
	if _, ok := MetricByKey(first); !ok && first != "meal" {
		parsed, ok := parseDateArg(first, b.today())
		if !ok {
			return fmt.Sprintf("I don't know the metric %q and it doesn't look like a date. Send /help for the metric list.", first)
		}
		date = parsed
		first, rest, _ = strings.Cut(strings.TrimSpace(rest), " ")
		if first == "" {
			return "What should I log for that date? Usage: <code>/log [date] &lt;metric|meal&gt; &lt;value&gt;</code>."
		}
	}

	return b.HandleDirectLog(ctx, profile, chatID, date, first, strings.TrimSpace(rest))
}

// HandleDirectLog logs a single metric value or meal description for a date,
// bypassing the guided session.
func (b *Bot) HandleDirectLog(ctx context.Context, profile *config.BotProfile, chatID int64, date time.Time, metricKey, value string) string {
	if metricKey == "meal" {
		if value == "" {
			return "Describe the meal, e.g. <code>/log meal 150g chicken and rice</code>."
		}
		return b.logMeal(ctx, profile, chatID, date, turnInput{Text: value})
	}

	m, ok := MetricByKey(metricKey)
	if !ok {
		return fmt.Sprintf("I don't know the metric %q. Metrics: %s.", metricKey, strings.Join(MetricKeys(), ", "))
	}
	updates, err := m.Parse(value)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return verr.Msg
		}
		return "Something went wrong while reading that value, please try again."
	}

	fieldUpdates := make(map[string]sheetlog.FieldUpdate, len(updates))
	for f, v := range updates {
		fieldUpdates[f] = sheetlog.FieldUpdate{Value: v}
	}
	if err := b.Store.UpsertRow(ctx, profile.SheetID, profile.Worksheet, profile.Schema(), date, fieldUpdates); err != nil {
		b.logf("bot %s: direct log of %s failed: %v", profile.Name, metricKey, err)
		return "Saving to the sheet failed, please try again in a moment."
	}
	b.slog().Info("logged metric", "bot", profile.Name, "chat_id", chatID, "metric", metricKey, "date", date.Format(sheetlog.DateLayout))
	return fmt.Sprintf("Logged <b>%s</b> for %s.", m.Key, date.Format(sheetlog.DateLayout))
}

// logMeal runs the full pipeline for one meal and writes the macro deltas.
func (b *Bot) logMeal(ctx context.Context, profile *config.BotProfile, chatID int64, date time.Time, input turnInput) string {
	agg, reply := b.aggregateMeal(ctx, profile, input)
	if reply != "" {
		return reply
	}
	if agg.ResolvedCount == 0 {
		// Nothing usable to write; just report.
		return renderMealReport(agg)
	}
	if err := b.writeMeal(ctx, profile, date, agg.Totals); err != nil {
		b.logf("bot %s: meal log failed: %v", profile.Name, err)
		return "Saving to the sheet failed, please try again in a moment."
	}
	b.slog().Info("logged meal", "bot", profile.Name, "chat_id", chatID,
		"date", date.Format(sheetlog.DateLayout),
		"resolved", agg.ResolvedCount, "unresolved", agg.UnresolvedCount,
		"calories", agg.Totals.CaloriesKcal)
	return renderMealReport(agg)
}

// aggregateMeal interprets the input and resolves it. A non-empty reply
// means the pipeline didn't produce an aggregate and the reply should go to
// the user instead.
func (b *Bot) aggregateMeal(ctx context.Context, profile *config.BotProfile, input turnInput) (nutrition.Aggregate, string) {
	items, err := b.interpretInput(ctx, profile, input)
	if err != nil {
		b.logf("bot %s: interpreting meal failed: %v", profile.Name, err)
		return nutrition.Aggregate{}, "I couldn't make out that meal, please try again."
	}
	if len(items) == 0 {
		return nutrition.Aggregate{}, "That doesn't look like food to me. Describe what you ate, e.g. <code>150g chicken and 1 cup rice</code>."
	}
	return b.Aggregator.Aggregate(ctx, items), ""
}

func (b *Bot) interpretInput(ctx context.Context, profile *config.BotProfile, input turnInput) ([]meal.Item, error) {
	switch {
	case input.PhotoFileID != "":
		data, err := b.downloadFile(ctx, profile.Token, input.PhotoFileID)
		if err != nil {
			return nil, fmt.Errorf("downloading photo: %w", err)
		}
		return b.Interpreter.InterpretImage(ctx, "image/jpeg", data, cmp.Or(input.Caption, input.Text))
	case input.VoiceFileID != "":
		data, err := b.downloadFile(ctx, profile.Token, input.VoiceFileID)
		if err != nil {
			return nil, fmt.Errorf("downloading voice message: %w", err)
		}
		return b.Interpreter.InterpretAudio(ctx, cmp.Or(input.VoiceMIMEType, "audio/ogg"), data)
	default:
		return b.Interpreter.InterpretText(ctx, input.Text)
	}
}

func (b *Bot) writeMeal(ctx context.Context, profile *config.BotProfile, date time.Time, totals nutrition.Macros) error {
	return b.Store.UpsertRow(ctx, profile.SheetID, profile.Worksheet, profile.Schema(), date, map[string]sheetlog.FieldUpdate{
		sheetlog.FieldCalories: {Value: totals.CaloriesKcal},
		sheetlog.FieldProtein:  {Value: totals.ProteinG},
		sheetlog.FieldCarbs:    {Value: totals.CarbsG},
		sheetlog.FieldFat:      {Value: totals.FatG},
		sheetlog.FieldFiber:    {Value: totals.FiberG},
	})
}

// HandleCancel discards the chat's active session, if any.
func (b *Bot) HandleCancel(chatID int64) string {
	reply := "Nothing to cancel."
	b.Sessions.WithChat(chatID, func(s *session.Session) *session.Session {
		if s == nil {
			return nil
		}
		_, effect := session.Transition(s.State, session.EventCancel)
		if effect == session.EffectAckCancel {
			reply = "Cancelled, nothing was saved."
		}
		return nil
	})
	return reply
}

// DailySummary renders what got logged for one date.
func (b *Bot) DailySummary(ctx context.Context, profile *config.BotProfile, date time.Time) string {
	sum, err := b.Store.Daily(ctx, profile.SheetID, profile.Worksheet, profile.Schema(), date)
	if err != nil {
		b.logf("bot %s: daily summary failed: %v", profile.Name, err)
		return "Reading the sheet failed, please try again in a moment."
	}
	if !sum.Found {
		return fmt.Sprintf("Nothing logged for %s yet.", date.Format(sheetlog.DateLayout))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Summary for %s</b>\n", date.Format(sheetlog.DateLayout))
	fmt.Fprintf(&sb, "Calories: %.0f kcal\n", sum.Macros.CaloriesKcal)
	fmt.Fprintf(&sb, "Protein: %.1f g, carbs: %.1f g, fat: %.1f g, fiber: %.1f g\n",
		sum.Macros.ProteinG, sum.Macros.CarbsG, sum.Macros.FatG, sum.Macros.FiberG)
	if sum.Steps > 0 {
		fmt.Fprintf(&sb, "Steps: %.0f\n", sum.Steps)
	}
	if sum.Weight > 0 {
		fmt.Fprintf(&sb, "Weight: %.1f kg\n", sum.Weight)
	}
	return strings.TrimSpace(sb.String())
}

// WeeklySummary renders averages for the week starting at weekStart.
func (b *Bot) WeeklySummary(ctx context.Context, profile *config.BotProfile, weekStart time.Time) string {
	sum, err := b.Store.Weekly(ctx, profile.SheetID, profile.Worksheet, profile.Schema(), weekStart)
	if err != nil {
		b.logf("bot %s: weekly summary failed: %v", profile.Name, err)
		return "Reading the sheet failed, please try again in a moment."
	}
	if sum.DaysWithData == 0 {
		return fmt.Sprintf("Nothing logged in the week of %s.", weekStart.Format(sheetlog.DateLayout))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Week of %s</b> (%d day(s) with data)\n", weekStart.Format(sheetlog.DateLayout), sum.DaysWithData)
	fmt.Fprintf(&sb, "Avg calories: %.0f kcal\n", sum.AvgMacros.CaloriesKcal)
	fmt.Fprintf(&sb, "Avg protein: %.1f g, carbs: %.1f g, fat: %.1f g, fiber: %.1f g\n",
		sum.AvgMacros.ProteinG, sum.AvgMacros.CarbsG, sum.AvgMacros.FatG, sum.AvgMacros.FiberG)
	if sum.AvgSteps > 0 {
		fmt.Fprintf(&sb, "Avg steps: %.0f\n", sum.AvgSteps)
	}
	return strings.TrimSpace(sb.String())
}

// renderMealReport shows resolved totals plus everything that couldn't be
// matched, so gaps can be corrected by hand.
func renderMealReport(agg nutrition.Aggregate) string {
	var sb strings.Builder
	if agg.ResolvedCount > 0 {
		fmt.Fprintf(&sb, "Logged <b>%.0f kcal</b> (protein %.1f g, carbs %.1f g, fat %.1f g, fiber %.1f g) from %d item(s).",
			agg.Totals.CaloriesKcal, agg.Totals.ProteinG, agg.Totals.CarbsG, agg.Totals.FatG, agg.Totals.FiberG, agg.ResolvedCount)
		for _, item := range agg.Items {
			if item.Confidence == nutrition.ConfidenceUnresolved {
				continue
			}
			fmt.Fprintf(&sb, "\n• %s — %.0f g, %.0f kcal", item.MatchedName, item.Grams, item.Macros.CaloriesKcal)
		}
	}
	if agg.UnresolvedCount > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Couldn't find nutrition data for: %s. Add those by hand if needed.",
			strings.Join(agg.UnresolvedNames, ", "))
	}
	return sb.String()
}

// parseDateArg understands "today", "yesterday" and anything dateparse can
// make sense of ("2026-08-27", "27.08.2026", "Aug 27").
func parseDateArg(s string, today time.Time) (time.Time, bool) {
	switch strings.ToLower(s) {
	case "today":
		return today, true
	case "yesterday":
		return today.AddDate(0, 0, -1), true
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	if t.Year() == 0 {
		t = t.AddDate(today.Year(), 0, 0)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}
