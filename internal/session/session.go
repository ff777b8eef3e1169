// Package session implements the guided logging conversation.
//
// The conversation is an explicit state machine: Transition is a pure
// function from (state, event) to (state, effect) and knows nothing about
// Telegram, validation or storage. The caller interprets the effect, runs
// the corresponding side work (prompting, validating a value, committing)
// and feeds the outcome back in as the next event.
package session

import (
	"time"

	"macrolog/internal/nutrition"
)

// State of a logging conversation.
type State string

const (
	// StateIdle means no session is active for the chat.
	StateIdle State = "idle"
	// StateAwaitingItemType waits for the user to pick what to log.
	StateAwaitingItemType State = "awaiting_item_type"
	// StateAwaitingItemValue waits for the value of the picked item.
	StateAwaitingItemValue State = "awaiting_item_value"
	// StateAwaitingMoreOrFinish waits for the user to continue or finish.
	StateAwaitingMoreOrFinish State = "awaiting_more_or_finish"
	// StateCommitted is terminal: pending entries were written.
	StateCommitted State = "committed"
	// StateCancelled is terminal: the session was discarded, nothing written.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the session is over.
func (s State) Terminal() bool { return s == StateCommitted || s == StateCancelled }

// Event is a conversation input.
type Event string

const (
	// EventStart is /newlog.
	EventStart Event = "start"
	// EventCancel is /cancel.
	EventCancel Event = "cancel"
	// EventChooseItem picks a metric or "meal" to log.
	EventChooseItem Event = "choose_item"
	// EventValueAccepted reports that the submitted value validated (and, for
	// meals, aggregated) successfully.
	EventValueAccepted Event = "value_accepted"
	// EventValueRejected reports a validation failure; the user may retry.
	EventValueRejected Event = "value_rejected"
	// EventMore continues the session with another item.
	EventMore Event = "more"
	// EventFinish commits all pending entries.
	EventFinish Event = "finish"
)

// Effect tells the caller what to do after a transition.
type Effect string

const (
	// EffectNone requires no action.
	EffectNone Effect = "none"
	// EffectPromptItemType asks the user what they want to log.
	EffectPromptItemType Effect = "prompt_item_type"
	// EffectPromptValue asks for the picked item's value.
	EffectPromptValue Effect = "prompt_value"
	// EffectReportInvalid tells the user the value didn't validate and asks
	// again.
	EffectReportInvalid Effect = "report_invalid"
	// EffectPromptMoreOrFinish asks whether to log more or finish.
	EffectPromptMoreOrFinish Effect = "prompt_more_or_finish"
	// EffectCommit writes all pending entries in one batch.
	EffectCommit Effect = "commit"
	// EffectAckCancel confirms that the session was discarded.
	EffectAckCancel Effect = "ack_cancel"
	// EffectRestart confirms that a previous unfinished session was discarded
	// before starting fresh.
	EffectRestart Effect = "restart"
)

// Transition is the conversation's pure transition function. Unexpected
// events leave the state unchanged with EffectNone, so a stray message never
// corrupts a session.
func Transition(s State, e Event) (State, Effect) {
	// /cancel and /newlog work the same from every state.
	switch e {
	case EventCancel:
		if s == StateIdle || s.Terminal() {
			return StateIdle, EffectNone
		}
		return StateCancelled, EffectAckCancel
	case EventStart:
		if s == StateIdle || s.Terminal() {
			return StateAwaitingItemType, EffectPromptItemType
		}
		// An active session is explicitly discarded, never merged into.
		return StateAwaitingItemType, EffectRestart
	}

	switch s {
	case StateAwaitingItemType:
		if e == EventChooseItem {
			return StateAwaitingItemValue, EffectPromptValue
		}
	case StateAwaitingItemValue:
		switch e {
		case EventValueAccepted:
			return StateAwaitingMoreOrFinish, EffectPromptMoreOrFinish
		case EventValueRejected:
			return StateAwaitingItemValue, EffectReportInvalid
		}
	case StateAwaitingMoreOrFinish:
		switch e {
		case EventMore:
			return StateAwaitingItemType, EffectPromptItemType
		case EventFinish:
			return StateCommitted, EffectCommit
		}
	}
	return s, EffectNone
}

// Session accumulates one chat's pending log entries between /newlog and
// finish.
type Session struct {
	ChatID     int64
	TargetDate time.Time
	State      State

	// PendingItem is the metric (or "meal") currently awaiting its value.
	PendingItem string
	// PendingMetrics maps sheet fields to values, overwritten on commit.
	PendingMetrics map[string]any
	// PendingMeals holds aggregated meals in submission order, summed and
	// additively merged on commit.
	PendingMeals []nutrition.Aggregate

	// LastActivity drives the inactivity timeout.
	LastActivity time.Time
}

// New starts a session for a chat targeting the given date.
func New(chatID int64, targetDate, now time.Time) *Session {
	return &Session{
		ChatID:         chatID,
		TargetDate:     targetDate,
		State:          StateAwaitingItemType,
		PendingMetrics: make(map[string]any),
		LastActivity:   now,
	}
}

// RecordMetric stores a validated metric value.
func (s *Session) RecordMetric(field string, value any) {
	s.PendingMetrics[field] = value
}

// RecordMeal stores an aggregated meal.
func (s *Session) RecordMeal(agg nutrition.Aggregate) {
	s.PendingMeals = append(s.PendingMeals, agg)
}

// MealTotals sums all pending meals.
func (s *Session) MealTotals() nutrition.Aggregate {
	var total nutrition.Aggregate
	for _, agg := range s.PendingMeals {
		total.Add(agg)
	}
	return total
}
