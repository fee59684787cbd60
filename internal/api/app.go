// Package api serves the dream synthesizer: server-rendered pages, a JSON API
// and MCP tools over the dream store.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/storage"
	"github.com/kalambet/dreamsynth/internal/transcribe"
)

// DreamReader reads the dream store.
type DreamReader interface {
	ListDreams(ctx context.Context) ([]storage.Dream, error)
	GetDream(ctx context.Context, id string) (storage.Dream, error)
}

// RunManager starts, inspects and cancels background pipeline runs.
type RunManager interface {
	Start(audio transcribe.Audio) (string, error)
	Get(id string) (pipeline.Run, bool)
	Cancel(id string) bool
}

type AppDeps struct {
	Dreams DreamReader
	Runs   RunManager
	// Token, when non-empty, is required by every route but /health and
	// /login: as a bearer header on /api, as a header or session cookie on pages.
	Token string
	// DataPath is shown on the help page.
	DataPath string
}

// NewAppHandler returns the router for pages, /api and /health.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Get("/login", handleLoginPage)
	r.Post("/login", handleLogin(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(PageAuth(deps.Token))
		}
		r.Get("/", handleSynthPage(deps))
		r.Post("/runs", handleStartRunForm(deps))
		r.Get("/runs/{id}", handleRunPage(deps))
		r.Get("/runs/{id}/image", handleRunImage(deps))
		r.Post("/runs/{id}/cancel", handleCancelRunForm(deps))
		r.Get("/dreams", handleDashboard(deps))
		r.Get("/dreams/{id}/image", handleDreamImage(deps))
		r.Get("/help", handleHelp(deps))
	})

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/dreams", handleListDreams(deps))
		r.Get("/dreams/{id}", handleGetDream(deps))
		r.Post("/runs", handleStartRun(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Delete("/runs/{id}", handleCancelRun(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
