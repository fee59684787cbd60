// Package pipeline turns one recorded dream into a stored record:
// transcription, emotion scoring, image generation and persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/storage"
	"github.com/kalambet/dreamsynth/internal/transcribe"
)

// Transcriber converts audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio transcribe.Audio) (string, error)
}

// EmotionAnalyzer scores text.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, text string) (emotion.Scores, error)
}

// ImageGenerator renders text into an encoded image.
type ImageGenerator interface {
	Generate(ctx context.Context, text string) ([]byte, error)
}

// DreamAppender persists a finished dream.
type DreamAppender interface {
	AppendDream(ctx context.Context, d storage.Dream) error
}

// Stage names a step of a run.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageTranscribing Stage = "transcribing"
	StageAnalyzing    Stage = "analyzing"
	StageImaging      Stage = "imaging"
	StageSaving       Stage = "saving"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
	StageCancelled    Stage = "cancelled"
)

// Event is published when a run enters a stage. It carries every output
// produced so far.
type Event struct {
	Stage      Stage
	Transcript string
	Emotions   emotion.Scores
	Image      []byte
	DreamID    string
}

// StageError records which stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline runs the four stages in order.
type Pipeline struct {
	transcriber Transcriber
	analyzer    EmotionAnalyzer
	images      ImageGenerator
	store       DreamAppender
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a Pipeline wired to its collaborators.
func New(t Transcriber, a EmotionAnalyzer, g ImageGenerator, s DreamAppender) *Pipeline {
	return &Pipeline{
		transcriber: t,
		analyzer:    a,
		images:      g,
		store:       s,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// Run processes audio and returns the appended dream:
//  1. Transcribe the audio
//  2. Score the transcript
//  3. Generate an image from the transcript
//  4. Append the record
//
// A stage that fails stops the run; nothing is persisted unless the first
// three stages succeed. The context is checked before every stage, so a
// cancelled run never starts its next stage. observe may be nil.
func (p *Pipeline) Run(ctx context.Context, audio transcribe.Audio, observe func(Event)) (storage.Dream, error) {
	if observe == nil {
		observe = func(Event) {}
	}
	var ev Event
	enter := func(s Stage) error {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: s, Err: err}
		}
		ev.Stage = s
		observe(ev)
		return nil
	}
	start := time.Now()

	// 1. Transcription.
	if err := enter(StageTranscribing); err != nil {
		return storage.Dream{}, err
	}
	text, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return storage.Dream{}, &StageError{Stage: StageTranscribing, Err: err}
	}
	ev.Transcript = text

	// 2. Emotion scoring.
	if err := enter(StageAnalyzing); err != nil {
		return storage.Dream{}, err
	}
	scores, err := p.analyzer.Analyze(ctx, text)
	if err != nil {
		return storage.Dream{}, &StageError{Stage: StageAnalyzing, Err: err}
	}
	ev.Emotions = scores

	// 3. Illustration.
	if err := enter(StageImaging); err != nil {
		return storage.Dream{}, err
	}
	img, err := p.images.Generate(ctx, text)
	if err != nil {
		return storage.Dream{}, &StageError{Stage: StageImaging, Err: err}
	}
	ev.Image = img

	// 4. Persistence.
	if err := enter(StageSaving); err != nil {
		return storage.Dream{}, err
	}
	dream := storage.NewDream(p.now(), text, scores, img)
	if err := p.store.AppendDream(ctx, dream); err != nil {
		return storage.Dream{}, &StageError{Stage: StageSaving, Err: err}
	}

	ev.Stage = StageDone
	ev.DreamID = dream.ID
	observe(ev)

	p.logger.Debug("pipeline: dream synthesized",
		"dream_id", dream.ID,
		"dominant", scores.Dominant(),
		"image_bytes", len(img),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dream, nil
}
