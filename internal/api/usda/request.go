package usda

import (
	"context"
	"net/http"

	"macrolog/internal/request"
)

func makeRequest[Response any](ctx context.Context, c *Client, url string) (Response, error) {
	return request.Make[Response](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        url,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
}
