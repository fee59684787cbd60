package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/storage"
)

func TestSynthPage(t *testing.T) {
	h, _, _ := setupHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	doc := parseHTML(t, rr.Body.String())

	audio := findByID(doc, "audio")
	if audio == nil {
		t.Fatal("no audio input")
	}
	if accept := attr(audio, "accept"); accept != ".wav,.mp3,.m4a" {
		t.Errorf("accept = %q", accept)
	}
	if findByID(doc, "recording") == nil {
		t.Error("no recording input")
	}
	form := findByID(doc, "synth")
	if form == nil || attr(form, "enctype") != "multipart/form-data" || attr(form, "action") != "/runs" {
		t.Errorf("synth form missing or misconfigured")
	}

	var navTexts []string
	for _, a := range findAll(doc, "a", "") {
		navTexts = append(navTexts, textOf(a))
	}
	joined := strings.Join(navTexts, "|")
	for _, want := range []string{"Synthétiseur", "Tableau de bord", "Aide"} {
		if !strings.Contains(joined, want) {
			t.Errorf("nav missing %q: %s", want, joined)
		}
	}
}

func TestStartRunForm_Upload(t *testing.T) {
	h, _, runs := setupHandler(t, "")

	body, ct := multipartBody(t, "audio", "reve.MP3", []byte("ID3-audio"))
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303; body = %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/runs/run-1" {
		t.Errorf("Location = %q, want /runs/run-1", loc)
	}
	if len(runs.started) != 1 || string(runs.started[0].Data) != "ID3-audio" || runs.started[0].Name != "reve.MP3" {
		t.Errorf("started = %+v", runs.started)
	}
}

func TestStartRunForm_Recording(t *testing.T) {
	h, _, runs := setupHandler(t, "")

	body, ct := multipartBody(t, "recording", "enregistrement.webm", []byte("webm-audio"))
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303; body = %s", rr.Code, rr.Body.String())
	}
	if len(runs.started) != 1 || runs.started[0].Name != "enregistrement.webm" {
		t.Errorf("started = %+v", runs.started)
	}
}

func TestStartRunForm_RejectsExtension(t *testing.T) {
	h, _, runs := setupHandler(t, "")

	body, ct := multipartBody(t, "audio", "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rr.Code)
	}
	if len(runs.started) != 0 {
		t.Errorf("run started for rejected upload")
	}
	doc := parseHTML(t, rr.Body.String())
	if msg := findByID(doc, "error-message"); msg == nil || !strings.Contains(textOf(msg), ".wav") {
		t.Error("error page does not explain accepted formats")
	}
}

func TestStartRunForm_NoFile(t *testing.T) {
	h, _, _ := setupHandler(t, "")

	body, ct := multipartBody(t, "other", "x.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestStartRunForm_EmptyFile(t *testing.T) {
	h, _, _ := setupHandler(t, "")

	body, ct := multipartBody(t, "audio", "vide.wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/runs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRunPage_InProgress(t *testing.T) {
	h, _, runs := setupHandler(t, "")
	runs.runs["r1"] = pipeline.Run{
		ID:         "r1",
		AudioName:  "reve.wav",
		Stage:      pipeline.StageImaging,
		Transcript: "Un escalier sans fin.",
		Emotions:   emotion.Scores{emotion.Happy: 0.1, emotion.Anxious: 0.9, emotion.Sad: 0, emotion.Angry: 0, emotion.Tired: 0, emotion.Afraid: 0},
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/r1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	doc := parseHTML(t, rr.Body.String())

	var refresh bool
	for _, m := range findAll(doc, "meta", "") {
		if attr(m, "http-equiv") == "refresh" {
			refresh = true
		}
	}
	if !refresh {
		t.Error("in-progress page does not auto-refresh")
	}

	steps := findAll(doc, "li", "")
	var states []string
	for _, li := range steps {
		if c := attr(li, "class"); c == "done" || c == "active" || c == "pending" || c == "failed" {
			states = append(states, c)
		}
	}
	want := []string{"done", "done", "active", "pending"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("step states = %v, want %v", states, want)
	}

	if tr := findByID(doc, "transcript"); tr == nil || textOf(tr) != "Un escalier sans fin." {
		t.Error("transcript not shown")
	}
	values := findAll(doc, "span", "value")
	if len(values) != 6 {
		t.Fatalf("score values = %d, want 6", len(values))
	}
	if textOf(values[1]) != "0.900" {
		t.Errorf("anxieux = %q, want 0.900", textOf(values[1]))
	}
}

func TestRunPage_Failed(t *testing.T) {
	h, _, runs := setupHandler(t, "")
	runs.runs["r2"] = pipeline.Run{
		ID:          "r2",
		Stage:       pipeline.StageFailed,
		FailedStage: pipeline.StageImaging,
		Transcript:  "x",
		Err:         "imaging: image: unexpected status 402: no credits",
		FinishedAt:  time.Now(),
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/r2", nil))
	doc := parseHTML(t, rr.Body.String())

	for _, m := range findAll(doc, "meta", "") {
		if attr(m, "http-equiv") == "refresh" {
			t.Error("finished page still refreshes")
		}
	}
	errNode := findByID(doc, "run-error")
	if errNode == nil || !strings.Contains(textOf(errNode), "402") {
		t.Error("remote diagnostic not shown")
	}
	if failed := findAll(doc, "li", "failed"); len(failed) != 1 || textOf(failed[0]) != "Génération de l'image" {
		t.Errorf("failed steps = %d", len(failed))
	}
}

func TestRunPage_NotFound(t *testing.T) {
	h, _, _ := setupHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestCancelRunForm(t *testing.T) {
	h, _, runs := setupHandler(t, "")
	runs.runs["r3"] = pipeline.Run{ID: "r3", Stage: pipeline.StageTranscribing}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/r3/cancel", nil))

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rr.Code)
	}
	if len(runs.cancelled) != 1 || runs.cancelled[0] != "r3" {
		t.Errorf("cancelled = %v", runs.cancelled)
	}
}

func TestRunImage(t *testing.T) {
	h, _, runs := setupHandler(t, "")
	runs.runs["r4"] = pipeline.Run{ID: "r4", Stage: pipeline.StageSaving, Image: pngBytes}
	runs.runs["r5"] = pipeline.Run{ID: "r5", Stage: pipeline.StageAnalyzing}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/r4/image", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("status = %d, content-type = %q", rr.Code, rr.Header().Get("Content-Type"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/r5/image", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before image exists", rr.Code)
	}
}

func TestDashboard_NewestFirst(t *testing.T) {
	h, dreams, _ := setupHandler(t, "")
	base := time.Date(2025, 5, 1, 6, 45, 0, 0, time.Local)
	dreams.dreams = []storage.Dream{
		sampleDream("d1", "Le premier rêve", base, emotion.Happy),
		sampleDream("d2", "Le second rêve", base.Add(24*time.Hour), emotion.Afraid),
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dreams", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	doc := parseHTML(t, rr.Body.String())

	entries := findAll(doc, "details", "dream")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if attr(entries[0], "id") != "dream-d2" {
		t.Errorf("first entry = %q, want dream-d2", attr(entries[0], "id"))
	}
	summary := findAll(entries[0], "summary", "")
	if len(summary) != 1 || !strings.Contains(textOf(summary[0]), "2025-05-02 06:45") || !strings.Contains(textOf(summary[0]), "Apeuré") {
		t.Errorf("summary = %q", textOf(summary[0]))
	}
	imgs := findAll(entries[1], "img", "dream")
	if len(imgs) != 1 || attr(imgs[0], "src") != "/dreams/d1/image" {
		t.Errorf("image src missing for d1")
	}
	if vals := findAll(entries[1], "span", "value"); len(vals) != 6 || textOf(vals[0]) != "1.000" {
		t.Errorf("scores for d1 not rendered to 3 decimals")
	}
}

func TestDashboard_Empty(t *testing.T) {
	h, _, _ := setupHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dreams", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Aucun rêve") {
		t.Error("empty dashboard has no placeholder")
	}
}

func TestDashboard_CorruptStore(t *testing.T) {
	h, dreams, _ := setupHandler(t, "")
	dreams.err = &storage.CorruptStoreError{Path: "/data/dreams.json", Err: errDisk}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dreams", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	doc := parseHTML(t, rr.Body.String())
	msg := findByID(doc, "error-message")
	if msg == nil || !strings.Contains(textOf(msg), "/data/dreams.json") {
		t.Error("error page does not name the corrupt store")
	}
}

func TestDreamImage(t *testing.T) {
	h, dreams, _ := setupHandler(t, "")
	dreams.dreams = []storage.Dream{sampleDream("d1", "x", time.Now(), emotion.Sad)}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dreams/d1/image", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != string(pngBytes) {
		t.Errorf("status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dreams/missing/image", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHelpPage(t *testing.T) {
	h, _, _ := setupHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/help", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"En colère", "/tmp/dreams.db", ".m4a"} {
		if !strings.Contains(body, want) {
			t.Errorf("help page missing %q", want)
		}
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rr.Code, rr.Body.String())
	}
}
