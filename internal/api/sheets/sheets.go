// Package sheets provides a minimal client for the Google Sheets values API,
// authenticated with a service account.
//
// See https://developers.google.com/sheets/api/reference/rest.
package sheets

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"macrolog/internal/api/google/serviceaccount"
	"macrolog/internal/request"
)

// APIEndpoint is the base URL of the Google Sheets API.
const APIEndpoint = "https://sheets.googleapis.com/v4"

// Client is a Google Sheets API client. It obtains and caches service account
// access tokens as needed.
type Client struct {
	// Key is the service account key used for authentication.
	Key *serviceaccount.Key
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	httpc := c.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	tok, err := c.Key.AccessToken(ctx, httpc, serviceaccount.ScopeSpreadsheets)
	if err != nil {
		return "", err
	}

	c.token = tok
	// Tokens are valid for an hour; refresh a bit earlier.
	c.tokenExpiry = time.Now().Add(55 * time.Minute)
	return tok, nil
}

// ValueRange holds a rectangular block of cell values.
type ValueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

// Get reads cell values from the given A1-notation range. Values are returned
// unformatted (numbers as numbers, not display strings).
func (c *Client) Get(ctx context.Context, spreadsheetID, rangeA1 string) (ValueRange, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return ValueRange{}, err
	}
	return request.Make[ValueRange](ctx, request.Params{
		Method: http.MethodGet,
		URL: APIEndpoint + "/spreadsheets/" + spreadsheetID + "/values/" +
			url.PathEscape(rangeA1) + "?valueRenderOption=UNFORMATTED_VALUE",
		Headers: map[string]string{
			"Authorization": "Bearer " + tok,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
}

type batchUpdateRequest struct {
	ValueInputOption string       `json:"valueInputOption"`
	Data             []ValueRange `json:"data"`
}

// BatchUpdate writes all provided value ranges in a single request.
func (c *Client) BatchUpdate(ctx context.Context, spreadsheetID string, data []ValueRange) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	_, err = request.Make[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    APIEndpoint + "/spreadsheets/" + spreadsheetID + "/values:batchUpdate",
		Headers: map[string]string{
			"Authorization": "Bearer " + tok,
		},
		Body: batchUpdateRequest{
			ValueInputOption: "USER_ENTERED",
			Data:             data,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	return err
}

type appendRequest struct {
	Values [][]any `json:"values"`
}

// Append appends rows after the last row with data that intersects rangeA1.
func (c *Client) Append(ctx context.Context, spreadsheetID, rangeA1 string, values [][]any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	_, err = request.Make[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL: APIEndpoint + "/spreadsheets/" + spreadsheetID + "/values/" +
			url.PathEscape(rangeA1) + ":append?valueInputOption=USER_ENTERED",
		Headers: map[string]string{
			"Authorization": "Bearer " + tok,
		},
		Body: appendRequest{
			Values: values,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	return err
}

// ColumnLetter converts a 0-based column index to its A1-notation letter(s).
func ColumnLetter(idx int) string {
	var sb strings.Builder
	for idx >= 0 {
		sb.WriteByte(byte('A' + idx%26))
		idx = idx/26 - 1
	}
	// Letters were produced least significant first.
	b := []byte(sb.String())
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
