// Package config loads the multi-bot configuration.
//
// One process serves any number of Telegram bots; each bot has its own token,
// its own spreadsheet and its own user allow-list, declared in a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"macrolog/internal/sheetlog"
)

// ErrUnknownBot is returned when an inbound update can't be matched to a
// configured bot.
var ErrUnknownBot = errors.New("unknown bot")

// BotProfile is one bot's configuration. The core treats it as an opaque
// routing key: it selects the spreadsheet, the worksheet schema and the
// allow-list that apply to an update.
type BotProfile struct {
	// Name identifies the bot in logs.
	Name string `json:"name"`
	// Token is the Telegram bot token.
	Token string `json:"token"`
	// SheetID is the Google spreadsheet this bot logs to.
	SheetID string `json:"sheet_id"`
	// Worksheet is the tab name within the spreadsheet.
	Worksheet string `json:"worksheet"`
	// AllowedUsers lists Telegram user IDs permitted to use the bot. An
	// empty list allows everyone.
	AllowedUsers []int64 `json:"allowed_users"`
	// SchemaType selects the worksheet layout: "template" (default) or
	// "legacy".
	SchemaType string `json:"schema_type"`
}

// Allowed reports whether the user may use this bot.
func (p *BotProfile) Allowed(userID int64) bool {
	if len(p.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(p.AllowedUsers, userID)
}

// Schema returns the sheet schema this bot's spreadsheet uses.
func (p *BotProfile) Schema() sheetlog.Schema {
	s, err := sheetlog.SchemaByName(p.SchemaType)
	if err != nil {
		// Validated at load time; reaching this is a bug.
		panic(err)
	}
	return s
}

// Load parses and validates the bot configuration JSON, an array of profiles.
func Load(b []byte) ([]BotProfile, error) {
	var profiles []BotProfile
	if err := json.Unmarshal(b, &profiles); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	if len(profiles) == 0 {
		return nil, errors.New("bot config declares no bots")
	}

	seen := make(map[string]string)
	for i, p := range profiles {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("bot #%d", i+1)
		}
		if p.Token == "" {
			return nil, fmt.Errorf("%s: missing token", name)
		}
		if p.SheetID == "" {
			return nil, fmt.Errorf("%s: missing sheet_id", name)
		}
		if p.Worksheet == "" {
			return nil, fmt.Errorf("%s: missing worksheet", name)
		}
		if _, err := sheetlog.SchemaByName(p.SchemaType); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, ok := seen[p.Token]; ok {
			return nil, fmt.Errorf("%s: token already used by %s", name, prev)
		}
		seen[p.Token] = name
	}
	return profiles, nil
}

// ByToken finds the profile a webhook update belongs to.
func ByToken(profiles []BotProfile, token string) (*BotProfile, error) {
	for i := range profiles {
		if profiles[i].Token == token {
			return &profiles[i], nil
		}
	}
	return nil, ErrUnknownBot
}
