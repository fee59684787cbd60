package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dreamsynth/internal/emotion"
)

func newTestJSONStore(t *testing.T) *JSONStore {
	t.Helper()
	s, err := OpenJSON(filepath.Join(t.TempDir(), LegacyFileName))
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	return s
}

func TestJSONStore_Contract(t *testing.T) {
	storeContract(t, newTestJSONStore(t))
}

func TestJSONStore_LegacyFormat(t *testing.T) {
	s := newTestJSONStore(t)
	at := time.Date(2025, 3, 14, 7, 30, 0, 0, time.Local)

	if err := s.AppendDream(context.Background(), testDream("la mer", at)); err != nil {
		t.Fatalf("AppendDream: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("file is not a JSON array: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("len = %d, want 1", len(raw))
	}
	rec := raw[0]
	if rec["date"] != "2025-03-14 07:30" {
		t.Errorf("date = %v", rec["date"])
	}
	if rec["texte"] != "la mer" {
		t.Errorf("texte = %v", rec["texte"])
	}
	if rec["image_b64"] != "cG5nOmxhIG1lcg==" {
		t.Errorf("image_b64 = %v", rec["image_b64"])
	}
	emotions, ok := rec["emotions"].(map[string]any)
	if !ok || len(emotions) != 6 {
		t.Errorf("emotions = %v", rec["emotions"])
	}
	if !strings.Contains(string(data), "\n  {") {
		t.Error("file is not indented")
	}
}

func TestJSONStore_ReadsRecordsWithoutID(t *testing.T) {
	s := newTestJSONStore(t)
	legacy := `[
  {"date": "2024-01-01 08:00", "texte": "un", "emotions": {"heureux": 1.0, "anxieux": 0.0, "triste": 0.0, "en_colere": 0.0, "fatigue": 0.0, "apeure": 0.0}, "image_b64": "aW1n"},
  {"date": "2024-01-02 08:00", "texte": "deux", "emotions": {"heureux": 0.0, "anxieux": 1.0, "triste": 0.0, "en_colere": 0.0, "fatigue": 0.0, "apeure": 0.0}, "image_b64": "aW1n"}
]`
	if err := os.WriteFile(s.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListDreams(context.Background())
	if err != nil {
		t.Fatalf("ListDreams: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "deux" || !strings.HasPrefix(got[0].ID, "legacy-") {
		t.Errorf("newest = %s %q, want a legacy id and deux", got[0].ID, got[0].Text)
	}
	if got[0].ID == got[1].ID {
		t.Errorf("both records got id %s", got[0].ID)
	}
	if got[1].Emotions[emotion.Happy] != 1 {
		t.Errorf("emotions = %v", got[1].Emotions)
	}

	d, err := s.GetDream(context.Background(), got[1].ID)
	if err != nil {
		t.Fatalf("GetDream: %v", err)
	}
	if string(d.Image) != "img" || d.Text != "un" {
		t.Errorf("GetDream = %q %q", d.Text, d.Image)
	}

	again, err := s.ListDreams(context.Background())
	if err != nil {
		t.Fatalf("ListDreams: %v", err)
	}
	if again[0].ID != got[0].ID || again[1].ID != got[1].ID {
		t.Error("legacy ids changed between reads")
	}
}

func TestRecordID_DependsOnContentNotPosition(t *testing.T) {
	a := legacyRecord{Date: "2024-01-01 08:00", Texte: "un", ImageB64: "aW1n"}
	b := legacyRecord{Date: "2024-01-01 08:00", Texte: "deux", ImageB64: "aW1n"}
	c := legacyRecord{Date: "2024-01-01 08:01", Texte: "un", ImageB64: "aW1n"}
	d := legacyRecord{Date: "2024-01-01 08:00", Texte: "un", ImageB64: "aW1o"}

	ids := map[string]bool{}
	for _, r := range []legacyRecord{a, b, c, d} {
		ids[recordID(r)] = true
	}
	if len(ids) != 4 {
		t.Errorf("got %d distinct ids for 4 different records", len(ids))
	}
	if recordID(a) != recordID(legacyRecord{Date: a.Date, Texte: a.Texte, ImageB64: a.ImageB64}) {
		t.Error("same content produced different ids")
	}
	if got := recordID(legacyRecord{ID: "01HX", Texte: "un"}); got != "01HX" {
		t.Errorf("recordID with stored id = %q, want 01HX", got)
	}
}

func TestReadLegacyFile_SeparateFilesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")
	if err := os.WriteFile(first, []byte(`[{"date": "2024-01-01 08:00", "texte": "la mer", "emotions": {"heureux": 1.0, "anxieux": 0.0, "triste": 0.0, "en_colere": 0.0, "fatigue": 0.0, "apeure": 0.0}, "image_b64": "aW1n"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte(`[{"date": "2024-03-05 07:30", "texte": "la forêt", "emotions": {"heureux": 0.0, "anxieux": 1.0, "triste": 0.0, "en_colere": 0.0, "fatigue": 0.0, "apeure": 0.0}, "image_b64": "aW1n"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := ReadLegacyFile(first)
	if err != nil {
		t.Fatalf("ReadLegacyFile(a): %v", err)
	}
	b, err := ReadLegacyFile(second)
	if err != nil {
		t.Fatalf("ReadLegacyFile(b): %v", err)
	}
	if a[0].ID == b[0].ID {
		t.Errorf("first records of two files share id %s", a[0].ID)
	}
}

func TestJSONStore_Corrupt(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": "not json at all",
		"object":  `{"date": "2024-01-01 08:00"}`,
		"empty":   "",
		"bad b64": `[{"date": "2024-01-01 08:00", "texte": "x", "emotions": {}, "image_b64": "%%%"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestJSONStore(t)
			if err := os.WriteFile(s.Path(), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := s.ListDreams(context.Background())
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("ListDreams error = %v, want ErrCorrupt", err)
			}
			var cerr *CorruptStoreError
			if !errors.As(err, &cerr) || cerr.Path != s.Path() {
				t.Errorf("error = %#v, want *CorruptStoreError for %s", err, s.Path())
			}
		})
	}
}

func TestJSONStore_AppendToCorruptFileFails(t *testing.T) {
	s := newTestJSONStore(t)
	if err := os.WriteFile(s.Path(), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := s.AppendDream(context.Background(), testDream("x", time.Now()))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("AppendDream error = %v, want ErrCorrupt", err)
	}

	data, _ := os.ReadFile(s.Path())
	if string(data) != "{broken" {
		t.Errorf("corrupt file was rewritten: %q", data)
	}
}

// TestJSONStore_LostUpdate documents the read-modify-write race of the file
// store: two writers that load the same snapshot each rewrite the whole file,
// and the later rename wins.
func TestJSONStore_LostUpdate(t *testing.T) {
	s := newTestJSONStore(t)
	a := testDream("écrivain A", time.Now())
	b := testDream("écrivain B", time.Now())

	snapA, err := s.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snapB, err := s.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.save(append(snapA, toLegacy(a))); err != nil {
		t.Fatalf("save A: %v", err)
	}
	if err := s.save(append(snapB, toLegacy(b))); err != nil {
		t.Fatalf("save B: %v", err)
	}

	got, err := s.ListDreams(context.Background())
	if err != nil {
		t.Fatalf("ListDreams: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("dreams = %v, want only writer B's record", got)
	}
}

func TestReadLegacyFile(t *testing.T) {
	s := newTestJSONStore(t)
	ctx := context.Background()
	for _, text := range []string{"a", "b"} {
		if err := s.AppendDream(ctx, testDream(text, time.Now())); err != nil {
			t.Fatalf("AppendDream: %v", err)
		}
	}

	got, err := ReadLegacyFile(s.Path())
	if err != nil {
		t.Fatalf("ReadLegacyFile: %v", err)
	}
	if len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Errorf("ReadLegacyFile = %v, want oldest first", got)
	}
}
