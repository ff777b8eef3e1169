package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"macrolog/internal/config"
	"macrolog/internal/nutrition"
	"macrolog/internal/session"
	"macrolog/internal/sheetlog"
)

func (b *Bot) nowTime() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// HandleNewLogTurn runs one turn of the guided logging conversation. The
// chat's session lock is held for the whole turn, so turns for the same chat
// never interleave.
func (b *Bot) HandleNewLogTurn(ctx context.Context, profile *config.BotProfile, chatID int64, input turnInput) string {
	var reply string
	b.Sessions.WithChat(chatID, func(s *session.Session) *session.Session {
		state := session.StateIdle
		if s != nil {
			state = s.State
		}
		text := strings.TrimSpace(input.Text)
		lower := strings.ToLower(text)

		var (
			ev           session.Event
			choice       string
			valueUpdates map[string]any
			mealAgg      nutrition.Aggregate
			valueReply   string
		)

		switch {
		case lower == "/newlog":
			ev = session.EventStart
		case lower == "/cancel":
			ev = session.EventCancel
		default:
			switch state {
			case session.StateAwaitingItemType:
				choice = lower
				if _, ok := MetricByKey(choice); !ok && choice != "meal" {
					reply = "Pick one of: meal, " + strings.Join(MetricKeys(), ", ") + ". Or /cancel to stop."
					return s
				}
				ev = session.EventChooseItem
			case session.StateAwaitingItemValue:
				ev, valueUpdates, mealAgg, valueReply = b.acceptValue(ctx, profile, s, input, text)
			case session.StateAwaitingMoreOrFinish:
				switch lower {
				case "more", "add":
					ev = session.EventMore
				case "finish", "done", "save":
					ev = session.EventFinish
				default:
					reply = `Say "more" to log something else or "finish" to save. /cancel discards everything.`
					return s
				}
			default:
				reply = "No active session. Send /newlog to start one."
				return s
			}
		}

		newState, effect := session.Transition(state, ev)
		switch effect {
		case session.EffectPromptItemType:
			if s == nil {
				s = session.New(chatID, b.today(), b.nowTime())
			}
			s.State = newState
			reply = promptItemType(s)
		case session.EffectRestart:
			s = session.New(chatID, b.today(), b.nowTime())
			reply = "Discarded the previous unfinished log.\n\n" + promptItemType(s)
		case session.EffectPromptValue:
			s.State = newState
			s.PendingItem = choice
			reply = promptValue(choice)
		case session.EffectReportInvalid:
			s.State = newState
			reply = valueReply
		case session.EffectPromptMoreOrFinish:
			s.State = newState
			if s.PendingItem == "meal" {
				s.RecordMeal(mealAgg)
			} else {
				for f, v := range valueUpdates {
					s.RecordMetric(f, v)
				}
			}
			accepted := valueReply
			if accepted == "" {
				accepted = "Got it."
			}
			reply = accepted + "\n\nLog something else? Say \"more\" or \"finish\"."
		case session.EffectCommit:
			if err := b.commitSession(ctx, profile, s); err != nil {
				b.logf("bot %s: committing session for chat %d failed: %v", profile.Name, chatID, err)
				// The session survives so the user can retry finishing.
				reply = `Saving to the sheet failed; your entries are kept. Say "finish" to retry or /cancel to discard.`
				return s
			}
			s.State = newState
			reply = commitSummary(s)
		case session.EffectAckCancel:
			s.State = newState
			reply = "Cancelled, nothing was saved."
		default:
			if s == nil {
				reply = "Nothing to cancel."
				return nil
			}
		}
		return s
	})
	return reply
}

// acceptValue validates the submitted value for the pending item and decides
// whether the turn advances or stays for a retry.
func (b *Bot) acceptValue(ctx context.Context, profile *config.BotProfile, s *session.Session, input turnInput, text string) (ev session.Event, valueUpdates map[string]any, mealAgg nutrition.Aggregate, valueReply string) {
	if s.PendingItem == "meal" {
		agg, errReply := b.aggregateMeal(ctx, profile, input)
		if errReply != "" {
			return session.EventValueRejected, nil, nutrition.Aggregate{}, errReply
		}
		return session.EventValueAccepted, nil, agg, renderMealReport(agg)
	}

	m, ok := MetricByKey(s.PendingItem)
	if !ok {
		// Can't happen: PendingItem was validated when chosen.
		return session.EventValueRejected, nil, nutrition.Aggregate{}, "Something went wrong, pick the item again."
	}
	updates, err := m.Parse(text)
	if err != nil {
		msg := "Something went wrong while reading that value, please try again."
		var verr *ValidationError
		if errors.As(err, &verr) {
			msg = verr.Msg
		}
		return session.EventValueRejected, nil, nutrition.Aggregate{}, msg
	}
	return session.EventValueAccepted, updates, nutrition.Aggregate{}, ""
}

// commitSession writes all pending entries in one call: metrics overwrite,
// summed meal macros merge additively.
func (b *Bot) commitSession(ctx context.Context, profile *config.BotProfile, s *session.Session) error {
	updates := make(map[string]sheetlog.FieldUpdate, len(s.PendingMetrics)+5)
	for f, v := range s.PendingMetrics {
		updates[f] = sheetlog.FieldUpdate{Value: v}
	}
	totals := s.MealTotals()
	if totals.ResolvedCount > 0 {
		updates[sheetlog.FieldCalories] = sheetlog.FieldUpdate{Value: totals.Totals.CaloriesKcal}
		updates[sheetlog.FieldProtein] = sheetlog.FieldUpdate{Value: totals.Totals.ProteinG}
		updates[sheetlog.FieldCarbs] = sheetlog.FieldUpdate{Value: totals.Totals.CarbsG}
		updates[sheetlog.FieldFat] = sheetlog.FieldUpdate{Value: totals.Totals.FatG}
		updates[sheetlog.FieldFiber] = sheetlog.FieldUpdate{Value: totals.Totals.FiberG}
	}
	if len(updates) == 0 {
		return nil
	}
	return b.Store.UpsertRow(ctx, profile.SheetID, profile.Worksheet, profile.Schema(), s.TargetDate, updates)
}

func promptItemType(s *session.Session) string {
	return fmt.Sprintf("Logging for <b>%s</b>. What do you want to log? One of: meal, %s. Or /cancel to stop.",
		s.TargetDate.Format(sheetlog.DateLayout), strings.Join(MetricKeys(), ", "))
}

func promptValue(choice string) string {
	if choice == "meal" {
		return "Describe the meal — text, photo or voice message:"
	}
	m, ok := MetricByKey(choice)
	if !ok {
		return "Send the value:"
	}
	return m.Prompt
}

func commitSummary(s *session.Session) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Saved your log for <b>%s</b>.", s.TargetDate.Format(sheetlog.DateLayout))
	if len(s.PendingMetrics) > 0 {
		fmt.Fprintf(&sb, " Metrics: %d.", len(s.PendingMetrics))
	}
	totals := s.MealTotals()
	if len(s.PendingMeals) > 0 {
		fmt.Fprintf(&sb, " Meals: %d (%.0f kcal).", len(s.PendingMeals), totals.Totals.CaloriesKcal)
	}
	if len(totals.UnresolvedNames) > 0 {
		fmt.Fprintf(&sb, " Unmatched items: %s.", strings.Join(totals.UnresolvedNames, ", "))
	}
	return sb.String()
}
