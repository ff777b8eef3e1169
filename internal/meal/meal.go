// Package meal turns free-form meal descriptions into structured food items.
//
// The interpreter asks a generative model to decompose a description like
// "150g chicken and a cup of rice" into a JSON list of items. Model output is
// untrusted: it is validated, retried once with a stricter prompt on malformed
// output, and finally degraded to a single unquantified item so a parse
// failure never loses the user's input.
package meal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"macrolog/internal/api/gemini"
	"macrolog/internal/units"
)

// Item is a single food item extracted from a meal description. A zero
// Quantity means the user didn't specify one; an empty Unit means the
// quantity is a plain count.
type Item struct {
	Name     string
	Quantity float64
	Unit     string
}

// TextGenerator is the generative capability the interpreter needs.
// *gemini.Client implements it.
type TextGenerator interface {
	GenerateText(ctx context.Context, temperature float64, parts ...*gemini.Part) (string, error)
}

// Interpreter decomposes meal descriptions into items.
type Interpreter struct {
	Generator TextGenerator
}

const parsePrompt = `You are a nutrition assistant. Decompose the meal description below into individual food items.

Respond with ONLY a JSON array, no other text. Each element must be an object with exactly these keys:
  "name": the food name in English, singular, lowercase (e.g. "chicken breast")
  "quantity": the amount as a number, or null if not mentioned
  "unit": one of "g", "kg", "ml", "l", "cup", "tbsp", "tsp", "oz", "lb", "piece", "slice", "serving", or null if not mentioned

If the text describes no food at all, respond with an empty array: []

Meal description:
`

const strictRetryPrompt = `Your previous response was not valid JSON. Respond again with ONLY a valid JSON array of objects with keys "name" (string), "quantity" (number or null) and "unit" (string or null). No markdown, no code fences, no explanations.

Meal description:
`

// InterpretText decomposes a typed meal description into items. It returns an
// empty slice when the text mentions no food.
func (in *Interpreter) InterpretText(ctx context.Context, text string) ([]Item, error) {
	items, err := in.parse(ctx, parsePrompt+text)
	if err == nil {
		return items, nil
	}

	// One stricter retry, then degrade to a single unquantified item.
	items, retryErr := in.parse(ctx, strictRetryPrompt+text)
	if retryErr == nil {
		return items, nil
	}
	return []Item{{Name: strings.TrimSpace(text)}}, nil
}

// InterpretImage describes the food on a photo and decomposes the description
// into items. The optional caption gives the model extra context.
func (in *Interpreter) InterpretImage(ctx context.Context, mimeType string, data []byte, caption string) ([]Item, error) {
	prompt := "Describe the food visible in this photo as a short meal description, listing each item with an estimated quantity."
	if caption != "" {
		prompt += " The user added this caption: " + caption
	}
	text, err := in.Generator.GenerateText(ctx, 0.2,
		gemini.TextPart(prompt),
		gemini.DataPart(mimeType, data),
	)
	if err != nil {
		return nil, fmt.Errorf("describing photo: %w", err)
	}
	return in.InterpretText(ctx, text)
}

// InterpretAudio transcribes a voice message and decomposes the transcription
// into items.
func (in *Interpreter) InterpretAudio(ctx context.Context, mimeType string, data []byte) ([]Item, error) {
	text, err := in.Generator.GenerateText(ctx, 0,
		gemini.TextPart("Transcribe this voice message verbatim. Respond with only the transcription."),
		gemini.DataPart(mimeType, data),
	)
	if err != nil {
		return nil, fmt.Errorf("transcribing voice message: %w", err)
	}
	return in.InterpretText(ctx, text)
}

func (in *Interpreter) parse(ctx context.Context, prompt string) ([]Item, error) {
	raw, err := in.Generator.GenerateText(ctx, 0, gemini.TextPart(prompt))
	if err != nil {
		return nil, err
	}
	return decodeItems(raw)
}

// wireItem tolerates the shapes models actually produce: null quantities,
// quantities as strings ("1/2"), missing units.
type wireItem struct {
	Name     string          `json:"name"`
	Quantity json.RawMessage `json:"quantity"`
	Unit     *string         `json:"unit"`
}

func decodeItems(raw string) ([]Item, error) {
	cleaned := stripCodeFence(raw)

	var wire []wireItem
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("model output is not a JSON array: %w", err)
	}

	items := make([]Item, 0, len(wire))
	for _, w := range wire {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			continue
		}
		it := Item{Name: name}
		if w.Unit != nil {
			it.Unit = strings.TrimSpace(*w.Unit)
		}
		it.Quantity = decodeQuantity(w.Quantity)
		items = append(items, it)
	}
	return items, nil
}

func decodeQuantity(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, ok := units.ParseQuantity(s); ok {
			return v
		}
	}
	return 0
}

// stripCodeFence removes a surrounding Markdown code fence, which models add
// despite being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i != -1 {
		// Drop the language tag line ("json").
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
