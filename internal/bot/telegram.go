package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"macrolog/internal/request"
	"macrolog/internal/version"
)

const tgAPI = "https://api.telegram.org"

const sendRetryLimit = 3

// Update is an incoming Telegram update, reduced to the fields we care
// about.
//
// https://core.telegram.org/bots/api#update
type Update struct {
	ID      int64    `json:"update_id"`
	Message *Message `json:"message"`
}

// https://core.telegram.org/bots/api#message
type Message struct {
	From    *User       `json:"from"`
	Chat    Chat        `json:"chat"`
	Text    string      `json:"text"`
	Caption string      `json:"caption"`
	Photo   []PhotoSize `json:"photo"`
	Voice   *Voice      `json:"voice"`
}

// https://core.telegram.org/bots/api#user
type User struct {
	ID int64 `json:"id"`
}

// https://core.telegram.org/bots/api#chat
type Chat struct {
	ID int64 `json:"id"`
}

// https://core.telegram.org/bots/api#photosize
type PhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

// https://core.telegram.org/bots/api#voice
type Voice struct {
	FileID   string `json:"file_id"`
	MIMEType string `json:"mime_type"`
}

// https://core.telegram.org/bots/api#sendmessage
type outgoingMessage struct {
	ChatID             int64  `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// send delivers an HTML-formatted message, retrying when Telegram rate-limits
// us with a retry_after hint.
func (b *Bot) send(ctx context.Context, token string, chatID int64, text string) error {
	msg := &outgoingMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}
	msg.LinkPreviewOptions.IsDisabled = true

	var err error
	for range sendRetryLimit {
		err = b.makeTelegramRequest(ctx, token, "sendMessage", msg)
		if err == nil {
			return nil
		}
		retryable, wait := isSendingRateLimited(err)
		if !retryable {
			break
		}
		b.slog().Warn("sending rate limited, waiting", "chat_id", chatID, "wait", wait)
		time.Sleep(wait)
	}
	return err
}

func isSendingRateLimited(err error) (retryable bool, wait time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func (b *Bot) makeTelegramRequest(ctx context.Context, token, method string, args any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    tgAPI + "/bot" + token + "/" + method,
		Body:   args,
		Headers: map[string]string{
			"User-Agent": version.UserAgent(),
		},
		HTTPClient: b.HTTPClient,
		Scrubber:   b.Scrubber,
	})
	return err
}

// downloadFile fetches the raw bytes of an uploaded file (a meal photo or a
// voice message) through the getFile dance.
func (b *Bot) downloadFile(ctx context.Context, token, fileID string) ([]byte, error) {
	type fileResponse struct {
		Result struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	resp, err := request.Make[fileResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    tgAPI + "/bot" + token + "/getFile",
		Body:   map[string]string{"file_id": fileID},
		Headers: map[string]string{
			"User-Agent": version.UserAgent(),
		},
		HTTPClient: b.HTTPClient,
		Scrubber:   b.Scrubber,
	})
	if err != nil {
		return nil, err
	}
	if resp.Result.FilePath == "" {
		return nil, errors.New("getFile returned no file path")
	}

	// File downloads return raw bytes, not JSON, so this one bypasses
	// request.Make.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tgAPI+"/file/bot"+token+"/"+resp.Result.FilePath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	httpc := b.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: want 200, got %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// largestPhoto picks the biggest size variant Telegram offers.
func largestPhoto(sizes []PhotoSize) (PhotoSize, bool) {
	var best PhotoSize
	for _, s := range sizes {
		if s.FileSize >= best.FileSize {
			best = s
		}
	}
	return best, best.FileID != ""
}
