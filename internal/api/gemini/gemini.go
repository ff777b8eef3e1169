// Package gemini provides a very minimal client for interacting with the
// Gemini API.
package gemini

import (
	"errors"
	"net/http"
	"strings"
)

// APIEndpoint is the base URL of the Gemini API.
const APIEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// ErrNoCandidates is returned by [Client.GenerateText] when the model returns
// no usable candidates.
var ErrNoCandidates = errors.New("gemini: no candidates in response")

// Client holds configuration for interacting with the Gemini API.
type Client struct {
	// APIKey is the API key used for authentication.
	APIKey string
	// Model specifies the name of the model to use for generation.
	Model string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// GenerateContentParams defines the structure for the request body sent to the
// GenerateContent API.
type GenerateContentParams struct {
	// Contents is a list of Content objects representing the input for
	// generation.
	Contents []*Content `json:"contents"`
	// SystemInstruction is an optional Content object specifying system
	// instructions for generation.
	SystemInstruction *Content `json:"systemInstruction,omitempty"`
	// GenerationConfig optionally tweaks generation parameters.
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerationConfig tweaks model generation parameters.
type GenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

// Content represents a piece of content with a list of Part objects.
type Content struct {
	// Parts is a list of Part objects representing the elements within the
	// content.
	Parts []*Part `json:"parts"`
}

// Part represents an element within a Content object: either text or inline
// binary data (an image or an audio clip).
type Part struct {
	// Text is the content of a textual element.
	Text string `json:"text,omitempty"`
	// InlineData holds raw media bytes for vision and audio requests.
	InlineData *Blob `json:"inline_data,omitempty"`
}

// Blob holds raw media bytes. Data is base64-encoded on the wire.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// TextPart returns a Part containing the given text.
func TextPart(text string) *Part { return &Part{Text: text} }

// DataPart returns a Part containing inline binary data of the given MIME
// type.
func DataPart(mimeType string, data []byte) *Part {
	return &Part{InlineData: &Blob{MIMEType: mimeType, Data: data}}
}

// GenerateContentResponse defines the structure of the response received from
// the GenerateContent API.
type GenerateContentResponse struct {
	// Candidates is a list of Candidate objects representing the generated
	// alternatives.
	Candidates []*Candidate `json:"candidates"`
}

// Candidate represents a generated candidate with a corresponding Content
// object.
type Candidate struct {
	// Content is the generated content for this candidate.
	Content *Content `json:"content"`
}
