package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/transcribe"
)

// ErrRunnerClosed is returned by Start once the runner's context is done.
var ErrRunnerClosed = errors.New("runner is shutting down")

// defaultHistory is how many finished runs are kept for polling.
const defaultHistory = 50

// Run is a point-in-time snapshot of a pipeline run.
type Run struct {
	ID          string
	AudioName   string
	Stage       Stage
	Transcript  string
	Emotions    emotion.Scores
	Image       []byte
	DreamID     string
	Err         string
	FailedStage Stage
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Finished reports whether the run has reached a terminal stage.
func (r Run) Finished() bool {
	switch r.Stage {
	case StageDone, StageFailed, StageCancelled:
		return true
	}
	return false
}

type runState struct {
	run    Run
	cancel context.CancelFunc
}

// Runner executes pipeline runs in background goroutines. At most
// maxConcurrent runs are past the queued stage at any time; the rest wait.
type Runner struct {
	pipeline *Pipeline
	base     context.Context
	sem      *semaphore.Weighted
	history  int
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*runState
	wg   sync.WaitGroup
}

// NewRunner creates a Runner. Runs are cancelled when ctx is done.
// maxConcurrent <= 0 means 1.
func NewRunner(ctx context.Context, p *Pipeline, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		pipeline: p,
		base:     ctx,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		history:  defaultHistory,
		logger:   slog.Default(),
		runs:     make(map[string]*runState),
	}
}

// Start launches a run for audio and returns its id immediately.
func (r *Runner) Start(audio transcribe.Audio) (string, error) {
	if r.base.Err() != nil {
		return "", ErrRunnerClosed
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(r.base)

	r.mu.Lock()
	r.runs[id] = &runState{
		run: Run{
			ID:        id,
			AudioName: audio.Name,
			Stage:     StageQueued,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	r.pruneLocked()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(ctx, cancel, id, audio)

	r.logger.Info("pipeline run started", "run_id", id, "audio", audio.Name, "bytes", len(audio.Data))
	return id, nil
}

// Get returns a snapshot of the run with the given id.
func (r *Runner) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return st.run, true
}

// Cancel stops the run with the given id. It returns false if the run is
// unknown or already finished.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	st, ok := r.runs[id]
	if !ok || st.run.Finished() {
		r.mu.Unlock()
		return false
	}
	cancel := st.cancel
	r.mu.Unlock()

	cancel()
	return true
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, cancel context.CancelFunc, id string, audio transcribe.Audio) {
	defer r.wg.Done()
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(id, "", &StageError{Stage: StageQueued, Err: err})
		return
	}
	defer r.sem.Release(1)

	dream, err := r.pipeline.Run(ctx, audio, func(ev Event) { r.update(id, ev) })
	r.finish(id, dream.ID, err)
}

func (r *Runner) update(id string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return
	}
	st.run.Stage = ev.Stage
	st.run.Transcript = ev.Transcript
	st.run.Emotions = ev.Emotions
	st.run.Image = ev.Image
	if ev.DreamID != "" {
		st.run.DreamID = ev.DreamID
	}
}

func (r *Runner) finish(id, dreamID string, err error) {
	r.mu.Lock()
	st, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.run.FinishedAt = time.Now()
	switch {
	case err == nil:
		st.run.Stage = StageDone
		st.run.DreamID = dreamID
	case errors.Is(err, context.Canceled):
		st.run.Stage = StageCancelled
		st.run.Err = err.Error()
	default:
		st.run.Stage = StageFailed
		st.run.Err = err.Error()
	}
	var serr *StageError
	if errors.As(err, &serr) {
		st.run.FailedStage = serr.Stage
	}
	run := st.run
	r.mu.Unlock()

	attrs := []any{"run_id", id, "stage", run.Stage, "duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds()}
	switch run.Stage {
	case StageDone:
		r.logger.Info("pipeline run finished", append(attrs, "dream_id", dreamID)...)
	case StageCancelled:
		r.logger.Info("pipeline run cancelled", append(attrs, "failed_stage", run.FailedStage)...)
	default:
		r.logger.Warn("pipeline run failed", append(attrs, "failed_stage", run.FailedStage, "error", err)...)
	}
}

// pruneLocked drops the oldest finished runs beyond the history limit.
func (r *Runner) pruneLocked() {
	if len(r.runs) <= r.history {
		return
	}
	var finished []*runState
	for _, st := range r.runs {
		if st.run.Finished() {
			finished = append(finished, st)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].run.StartedAt.Before(finished[j].run.StartedAt)
	})
	for _, st := range finished {
		if len(r.runs) <= r.history {
			return
		}
		delete(r.runs, st.run.ID)
	}
}
