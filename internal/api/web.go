package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"score": func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"width": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"date":  func(t time.Time) string { return t.Local().Format(storage.LegacyDateLayout) },
	"label": func(l emotion.Label) string { return l.DisplayName() },
}

var pages = map[string]*template.Template{}

func init() {
	for _, name := range []string{"synth.html", "run.html", "dashboard.html", "help.html", "error.html", "login.html"} {
		pages[name] = template.Must(template.New(name).Funcs(templateFuncs).
			ParseFS(templatesFS, "templates/layout.html", "templates/"+name))
	}
}

// view is the data every page template receives.
type view struct {
	Title  string
	Active string
	Data   any
}

func render(w http.ResponseWriter, status int, page string, v view) {
	var buf bytes.Buffer
	if err := pages[page].ExecuteTemplate(&buf, "layout", v); err != nil {
		slog.Error("rendering page", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func renderError(w http.ResponseWriter, status int, message string) {
	render(w, status, "error.html", view{Title: "Erreur", Data: message})
}

func handleSynthPage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, http.StatusOK, "synth.html", view{Title: "Synthétiseur", Active: "synth"})
	}
}

func handleStartRunForm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audio, err := readAudio(w, r)
		if err != nil {
			status := http.StatusBadRequest
			var uerr *uploadError
			if errors.As(err, &uerr) {
				status = uerr.Status
			}
			renderError(w, status, err.Error())
			return
		}

		id, err := deps.Runs.Start(audio)
		if err != nil {
			renderError(w, http.StatusServiceUnavailable, fmt.Sprintf("impossible de lancer la synthèse : %v", err))
			return
		}
		http.Redirect(w, r, "/runs/"+id, http.StatusSeeOther)
	}
}

// step is one line of the progress list on the run page.
type step struct {
	Label string
	State string // "done", "active", "failed" or "pending"
}

var stepOrder = []struct {
	stage pipeline.Stage
	label string
}{
	{pipeline.StageTranscribing, "Transcription"},
	{pipeline.StageAnalyzing, "Analyse des émotions"},
	{pipeline.StageImaging, "Génération de l'image"},
	{pipeline.StageSaving, "Enregistrement"},
}

func progressSteps(run pipeline.Run) []step {
	current := run.Stage
	if current == pipeline.StageFailed || current == pipeline.StageCancelled {
		current = run.FailedStage
	}

	idx := -1
	for i, s := range stepOrder {
		if s.stage == current {
			idx = i
		}
	}

	steps := make([]step, len(stepOrder))
	for i, s := range stepOrder {
		state := "pending"
		switch {
		case run.Stage == pipeline.StageDone || i < idx:
			state = "done"
		case i == idx && run.Finished():
			state = "failed"
		case i == idx:
			state = "active"
		}
		steps[i] = step{Label: s.label, State: state}
	}
	return steps
}

type runPage struct {
	Run    pipeline.Run
	Steps  []step
	Scores []emotion.Score
}

func handleRunPage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := deps.Runs.Get(chi.URLParam(r, "id"))
		if !ok {
			renderError(w, http.StatusNotFound, "synthèse introuvable")
			return
		}
		render(w, http.StatusOK, "run.html", view{
			Title:  "Synthèse en cours",
			Active: "synth",
			Data: runPage{
				Run:    run,
				Steps:  progressSteps(run),
				Scores: run.Emotions.Ordered(),
			},
		})
	}
}

func handleRunImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := deps.Runs.Get(chi.URLParam(r, "id"))
		if !ok || len(run.Image) == 0 {
			http.NotFound(w, r)
			return
		}
		writeImage(w, run.Image)
	}
}

func handleCancelRunForm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Runs.Get(id); !ok {
			renderError(w, http.StatusNotFound, "synthèse introuvable")
			return
		}
		deps.Runs.Cancel(id)
		http.Redirect(w, r, "/runs/"+id, http.StatusSeeOther)
	}
}

type dreamEntry struct {
	storage.Dream
	Scores   []emotion.Score
	Dominant emotion.Label
}

func handleDashboard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dreams, err := deps.Dreams.ListDreams(r.Context())
		if err != nil {
			slog.Error("listing dreams", "error", err)
			renderError(w, http.StatusInternalServerError, fmt.Sprintf("impossible de lire le journal des rêves : %v", err))
			return
		}

		entries := make([]dreamEntry, len(dreams))
		for i, d := range dreams {
			entries[i] = dreamEntry{Dream: d, Scores: d.Emotions.Ordered(), Dominant: d.Emotions.Dominant()}
		}
		render(w, http.StatusOK, "dashboard.html", view{Title: "Tableau de bord", Active: "dreams", Data: entries})
	}
}

func handleDreamImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Dreams.GetDream(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			slog.Error("loading dream image", "error", err)
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		writeImage(w, d.Image)
	}
}

func writeImage(w http.ResponseWriter, img []byte) {
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Write(img)
}

type helpPage struct {
	DataPath  string
	Labels    []emotion.Label
	Protected bool
}

func handleHelp(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, http.StatusOK, "help.html", view{
			Title:  "Aide",
			Active: "help",
			Data:   helpPage{DataPath: deps.DataPath, Labels: emotion.Labels, Protected: deps.Token != ""},
		})
	}
}
