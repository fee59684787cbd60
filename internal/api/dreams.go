package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/storage"
)

type dreamSummary struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Text      string         `json:"text"`
	Emotions  emotion.Scores `json:"emotions"`
	Dominant  emotion.Label  `json:"dominant"`
	ImageURL  string         `json:"image_url"`
	Source    string         `json:"source,omitempty"`
}

type dreamDetail struct {
	dreamSummary
	Image []byte `json:"image_b64"`
}

func summarize(d storage.Dream) dreamSummary {
	return dreamSummary{
		ID:        d.ID,
		CreatedAt: d.CreatedAt,
		Text:      d.Text,
		Emotions:  d.Emotions,
		Dominant:  d.Emotions.Dominant(),
		ImageURL:  "/dreams/" + d.ID + "/image",
		Source:    d.Source,
	}
}

func handleListDreams(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dreams, err := deps.Dreams.ListDreams(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to list dreams: %v", err)
			return
		}

		out := make([]dreamSummary, len(dreams))
		for i, d := range dreams {
			out[i] = summarize(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDream(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		d, err := deps.Dreams.GetDream(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "dream %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to get dream: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, dreamDetail{dreamSummary: summarize(d), Image: d.Image})
	}
}

type runResponse struct {
	ID          string         `json:"id"`
	Stage       pipeline.Stage `json:"stage"`
	Finished    bool           `json:"finished"`
	AudioName   string         `json:"audio_name,omitempty"`
	Transcript  string         `json:"transcript,omitempty"`
	Emotions    emotion.Scores `json:"emotions,omitempty"`
	HasImage    bool           `json:"has_image"`
	DreamID     string         `json:"dream_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	FailedStage pipeline.Stage `json:"failed_stage,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

func toRunResponse(run pipeline.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		Stage:       run.Stage,
		Finished:    run.Finished(),
		AudioName:   run.AudioName,
		Transcript:  run.Transcript,
		Emotions:    run.Emotions,
		HasImage:    len(run.Image) > 0,
		DreamID:     run.DreamID,
		Error:       run.Err,
		FailedStage: run.FailedStage,
		StartedAt:   run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		t := run.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audio, err := readAudio(w, r)
		if err != nil {
			status := http.StatusBadRequest
			var uerr *uploadError
			if errors.As(err, &uerr) {
				status = uerr.Status
			}
			httpError(w, status, "invalid_request_error", "%v", err)
			return
		}

		id, err := deps.Runs.Start(audio)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "failed to start run: %v", err)
			return
		}
		w.Header().Set("Location", "/api/runs/"+id)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     id,
			"status": string(pipeline.StageQueued),
		})
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, ok := deps.Runs.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "run %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, toRunResponse(run))
	}
}

func handleCancelRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, ok := deps.Runs.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "run %s not found", id)
			return
		}
		if !deps.Runs.Cancel(id) {
			httpError(w, http.StatusConflict, "invalid_request_error", "run %s already %s", id, run.Stage)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	}
}
