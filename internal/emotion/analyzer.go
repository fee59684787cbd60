package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/dreamsynth/internal/chat"
	"github.com/kalambet/dreamsynth/internal/remote"
)

// DefaultModel is the chat model used for scoring.
const DefaultModel = "mistral-small"

// ErrMalformedResponse matches every *MalformedResponseError.
var ErrMalformedResponse = errors.New("malformed emotion response")

// MalformedResponseError reports a reply that is valid JSON but does not carry
// exactly the six numeric label fields.
type MalformedResponseError struct {
	Missing    []Label
	Unexpected []string
	NonNumeric []string
}

func (e *MalformedResponseError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, l := range e.Missing {
			names[i] = string(l)
		}
		parts = append(parts, "missing "+strings.Join(names, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	if len(e.NonNumeric) > 0 {
		parts = append(parts, "non-numeric "+strings.Join(e.NonNumeric, ", "))
	}
	return ErrMalformedResponse.Error() + ": " + strings.Join(parts, "; ")
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// Completer sends one chat completion and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, req chat.Request) (string, error)
}

// Analyzer scores text with a chat model.
type Analyzer struct {
	client Completer
	model  string
}

// NewAnalyzer creates an Analyzer. An empty model selects DefaultModel.
func NewAnalyzer(client Completer, model string) *Analyzer {
	if model == "" {
		model = DefaultModel
	}
	return &Analyzer{client: client, model: model}
}

// Analyze asks the model for raw scores and returns them normalized.
func (a *Analyzer) Analyze(ctx context.Context, text string) (Scores, error) {
	reply, err := a.client.Complete(ctx, chat.Request{
		Model:      a.model,
		Messages:   BuildMessages(text),
		JSONObject: true,
	})
	if err != nil {
		return nil, err
	}

	raw, err := ParseReply(reply)
	if err != nil {
		return nil, err
	}
	return Normalize(raw), nil
}

// ParseReply decodes a model reply into raw scores. Surrounding whitespace is
// ignored; anything else that is not a JSON object fails with *remote.Error.
func ParseReply(reply string) (Scores, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &fields); err != nil {
		return nil, &remote.Error{
			Service: "emotion",
			Body:    reply,
			Err:     fmt.Errorf("reply is not a JSON object: %w", err),
		}
	}

	merr := &MalformedResponseError{}
	scores := make(Scores, len(Labels))
	for key, value := range fields {
		label := Label(key)
		if !label.Valid() {
			merr.Unexpected = append(merr.Unexpected, key)
			continue
		}
		v, ok := parseNumber(value)
		if !ok {
			merr.NonNumeric = append(merr.NonNumeric, key)
			continue
		}
		scores[label] = v
	}
	for _, l := range Labels {
		if _, ok := fields[string(l)]; !ok {
			merr.Missing = append(merr.Missing, l)
		}
	}

	if len(merr.Missing)+len(merr.Unexpected)+len(merr.NonNumeric) > 0 {
		sort.Strings(merr.Unexpected)
		sort.Strings(merr.NonNumeric)
		return nil, merr
	}
	return scores, nil
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
