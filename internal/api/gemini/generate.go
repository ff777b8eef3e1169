package gemini

import (
	"context"
	"net/http"
	"strings"

	"macrolog/internal/request"
)

// GenerateContent sends a request to the Gemini API to generate content.
func (c *Client) GenerateContent(ctx context.Context, params GenerateContentParams) (GenerateContentResponse, error) {
	return request.Make[GenerateContentResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    APIEndpoint + "/models/" + c.Model + ":generateContent",
		Headers: map[string]string{
			"x-goog-api-key": c.APIKey,
		},
		Body:       params,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
}

// GenerateText generates content from the given parts and returns the text of
// the first candidate. It returns [ErrNoCandidates] if the model produced no
// usable output.
func (c *Client) GenerateText(ctx context.Context, temperature float64, parts ...*Part) (string, error) {
	resp, err := c.GenerateContent(ctx, GenerateContentParams{
		Contents: []*Content{{Parts: parts}},
		GenerationConfig: &GenerationConfig{
			Temperature: &temperature,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoCandidates
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", ErrNoCandidates
	}
	return sb.String(), nil
}
