package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/dreamsynth/internal/emotion"
)

// LegacyDateLayout is the minute-precision timestamp of dreams.json records.
const LegacyDateLayout = "2006-01-02 15:04"

// legacyRecord is one element of the dreams.json array.
type legacyRecord struct {
	ID       string         `json:"id,omitempty"`
	Date     string         `json:"date"`
	Texte    string         `json:"texte"`
	Emotions emotion.Scores `json:"emotions"`
	ImageB64 string         `json:"image_b64"`
}

// JSONStore keeps every dream in a single JSON array file. Each append reads
// the whole file and rewrites it through a temporary file and a rename. There
// is no cross-process lock: two writers that read the same snapshot lose one
// of their appends.
type JSONStore struct {
	path string
}

// OpenJSON returns a store backed by path. The file is created on the first
// append.
func OpenJSON(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &JSONStore{path: path}, nil
}

// Path returns the backing file.
func (s *JSONStore) Path() string { return s.path }

// Close is a no-op; the file is not held open between calls.
func (s *JSONStore) Close() error { return nil }

// AppendDream adds d at the end of the file.
func (s *JSONStore) AppendDream(ctx context.Context, d Dream) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid dream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	records, err := s.load()
	if err != nil {
		return err
	}
	return s.save(append(records, toLegacy(d)))
}

// ListDreams returns every dream, newest first.
func (s *JSONStore) ListDreams(ctx context.Context) ([]Dream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Dream, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		d, err := fromLegacy(records[i])
		if err != nil {
			return nil, &CorruptStoreError{Path: s.path, Err: err}
		}
		out = append(out, d)
	}
	return out, nil
}

// GetDream returns the dream with the given id, or ErrNotFound.
func (s *JSONStore) GetDream(ctx context.Context, id string) (Dream, error) {
	if err := ctx.Err(); err != nil {
		return Dream{}, err
	}
	records, err := s.load()
	if err != nil {
		return Dream{}, err
	}
	for _, r := range records {
		if recordID(r) != id {
			continue
		}
		d, err := fromLegacy(r)
		if err != nil {
			return Dream{}, &CorruptStoreError{Path: s.path, Err: err}
		}
		return d, nil
	}
	return Dream{}, ErrNotFound
}

// ReadLegacyFile parses a dreams.json file in insertion order, oldest first.
func ReadLegacyFile(path string) ([]Dream, error) {
	s := &JSONStore{path: path}
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Dream, 0, len(records))
	for _, r := range records {
		d, err := fromLegacy(r)
		if err != nil {
			return nil, &CorruptStoreError{Path: path, Err: err}
		}
		out = append(out, d)
	}
	return out, nil
}

// load reads the whole file. A missing file is an empty store.
func (s *JSONStore) load() ([]legacyRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &CorruptStoreError{Path: s.path, Err: errors.New("content is not a JSON array")}
	}
	var records []legacyRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, &CorruptStoreError{Path: s.path, Err: err}
	}
	return records, nil
}

func (s *JSONStore) save(records []legacyRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding dreams: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".dreams-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// recordID returns the stored id, or for records written without one, an id
// derived from the record's date, text and image. Two files holding the same
// dream yield the same id; different dreams never share one.
func recordID(r legacyRecord) string {
	if r.ID != "" {
		return r.ID
	}
	h := sha256.New()
	for _, part := range []string{r.Date, r.Texte, r.ImageB64} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "legacy-" + hex.EncodeToString(h.Sum(nil))[:20]
}

func toLegacy(d Dream) legacyRecord {
	return legacyRecord{
		ID:       d.ID,
		Date:     d.CreatedAt.Local().Format(LegacyDateLayout),
		Texte:    d.Text,
		Emotions: d.Emotions,
		ImageB64: base64.StdEncoding.EncodeToString(d.Image),
	}
}

func fromLegacy(r legacyRecord) (Dream, error) {
	id := recordID(r)
	created, err := time.ParseInLocation(LegacyDateLayout, r.Date, time.Local)
	if err != nil {
		return Dream{}, fmt.Errorf("record %s: parsing date: %w", id, err)
	}
	img, err := base64.StdEncoding.DecodeString(r.ImageB64)
	if err != nil {
		return Dream{}, fmt.Errorf("record %s: decoding image: %w", id, err)
	}
	return Dream{
		ID:        id,
		CreatedAt: created,
		Text:      r.Texte,
		Emotions:  r.Emotions,
		Image:     img,
	}, nil
}
