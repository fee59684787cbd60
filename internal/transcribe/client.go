// Package transcribe turns recorded audio into text through an
// OpenAI-compatible speech-to-text endpoint (Groq by default).
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/dreamsynth/internal/remote"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultTimeout = 60 * time.Second
	serviceName    = "transcription"

	// DefaultModel is the speech-to-text model requested.
	DefaultModel = "whisper-large-v3-turbo"
	// DefaultLanguage is the spoken language hint sent with each upload.
	DefaultLanguage = "fr"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("audio is empty")

// Audio is an in-memory audio clip.
type Audio struct {
	Name string // original file name, used as the upload file name
	Data []byte
}

// transcriptionResponse is the subset of a verbose_json reply we read.
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"` // detected, e.g. "french"
	Duration float64 `json:"duration"` // seconds of audio
}

// Client uploads audio for transcription. Each call is attempted once.
type Client struct {
	apiKey   string
	model    string
	language string
	opts     remote.Options
	logger   *slog.Logger
}

// NewClient creates a transcription client. Empty model or language select
// the defaults.
func NewClient(apiKey, model, language string, opts ...remote.Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &Client{
		apiKey:   apiKey,
		model:    model,
		language: language,
		opts:     remote.Resolve(serviceName, defaultBaseURL, defaultTimeout, opts),
		logger:   slog.Default(),
	}
}

// Transcribe sends audio as a multipart upload and returns the transcript.
// The clip never touches the disk.
func (c *Client) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", ErrEmptyAudio
	}

	body, contentType, err := c.encode(audio)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", remote.FromResponse(c.opts.Name, resp, c.apiKey)
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	text := strings.TrimSpace(out.Text)
	c.logger.Debug("transcribe: audio transcribed",
		"model", c.model,
		"detected_language", out.Language,
		"audio_seconds", out.Duration,
		"chars", len(text),
	)
	if out.Language != "" && !sameLanguage(c.language, out.Language) {
		c.logger.Warn("transcribe: detected language differs from hint",
			"hint", c.language, "detected", out.Language)
	}
	return text, nil
}

func (c *Client) encode(audio Audio) (*bytes.Buffer, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	name := filepath.Base(audio.Name)
	if name == "." || name == "/" || name == "" {
		name = "dream.wav"
	}
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}

	fields := [][2]string{
		{"model", c.model},
		{"response_format", "verbose_json"},
		{"language", c.language},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &b, w.FormDataContentType(), nil
}

// languageNames maps the ISO 639-1 hints we send to the names Whisper
// reports back.
var languageNames = map[string]string{
	"fr": "french",
	"en": "english",
	"es": "spanish",
	"de": "german",
	"it": "italian",
}

// sameLanguage reports whether detected matches hint. Unknown hints are
// assumed to match.
func sameLanguage(hint, detected string) bool {
	detected = strings.ToLower(detected)
	if detected == strings.ToLower(hint) {
		return true
	}
	name, ok := languageNames[strings.ToLower(hint)]
	return !ok || name == detected
}
