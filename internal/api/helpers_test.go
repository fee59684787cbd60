package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/storage"
	"github.com/kalambet/dreamsynth/internal/transcribe"
)

const testToken = "test-token-12345"

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

// --- mocks ---

type memDreams struct {
	dreams []storage.Dream // oldest first
	err    error
}

func (m *memDreams) ListDreams(context.Context) ([]storage.Dream, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]storage.Dream, 0, len(m.dreams))
	for i := len(m.dreams) - 1; i >= 0; i-- {
		out = append(out, m.dreams[i])
	}
	return out, nil
}

func (m *memDreams) GetDream(_ context.Context, id string) (storage.Dream, error) {
	if m.err != nil {
		return storage.Dream{}, m.err
	}
	for _, d := range m.dreams {
		if d.ID == id {
			return d, nil
		}
	}
	return storage.Dream{}, storage.ErrNotFound
}

type fakeRuns struct {
	mu        sync.Mutex
	runs      map[string]pipeline.Run
	started   []transcribe.Audio
	cancelled []string
	startErr  error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[string]pipeline.Run)}
}

func (f *fakeRuns) Start(audio transcribe.Audio) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, audio)
	id := "run-1"
	f.runs[id] = pipeline.Run{ID: id, AudioName: audio.Name, Stage: pipeline.StageQueued, StartedAt: time.Now()}
	return id, nil
}

func (f *fakeRuns) Get(id string) (pipeline.Run, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	return r, ok
}

func (f *fakeRuns) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Finished() {
		return false
	}
	f.cancelled = append(f.cancelled, id)
	return true
}

// --- helpers ---

func sampleDream(id, text string, at time.Time, dominant emotion.Label) storage.Dream {
	scores := emotion.Scores{}
	for _, l := range emotion.Labels {
		scores[l] = 0
	}
	scores[dominant] = 1
	return storage.Dream{ID: id, CreatedAt: at, Text: text, Emotions: scores, Image: pngBytes}
}

func setupHandler(t *testing.T, token string) (http.Handler, *memDreams, *fakeRuns) {
	t.Helper()
	dreams := &memDreams{}
	runs := newFakeRuns()
	h := NewAppHandler(AppDeps{Dreams: dreams, Runs: runs, Token: token, DataPath: "/tmp/dreams.db"})
	return h, dreams, runs
}

func authReq(method, url string, body io.Reader, token string) *http.Request {
	req := httptest.NewRequest(method, url, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// multipartBody builds a form with a single file field.
func multipartBody(t *testing.T, field, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parsing HTML: %v", err)
	}
	return doc
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findAll returns every element node matching tag and, when class is
// non-empty, carrying that class.
func findAll(n *html.Node, tag, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			if class == "" || strings.Contains(" "+attr(n, "class")+" ", " "+class+" ") {
				out = append(out, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

var errDisk = errors.New("disk on fire")
