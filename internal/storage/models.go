// Package storage persists synthesized dreams in an append-only store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalambet/dreamsynth/internal/emotion"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrCorrupt matches every *CorruptStoreError.
var ErrCorrupt = errors.New("dream store is corrupt")

// CorruptStoreError reports a persisted store that cannot be parsed.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("dream store %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

func (e *CorruptStoreError) Is(target error) bool { return target == ErrCorrupt }

// Dream is one synthesized dream. Records are never modified once appended.
type Dream struct {
	ID        string
	CreatedAt time.Time // truncated to the minute
	Text      string
	Emotions  emotion.Scores
	Image     []byte
	// Source is SourceSynth or SourceImport. Stores that do not track
	// origin leave it empty.
	Source string
}

// Origins recorded by the SQLite store.
const (
	SourceSynth  = "synth"
	SourceImport = "import"
)

// NewDream builds a record with a fresh id, stamped at now.
func NewDream(now time.Time, text string, scores emotion.Scores, image []byte) Dream {
	return Dream{
		ID:        NewDreamID(),
		CreatedAt: now.Truncate(time.Minute),
		Text:      text,
		Emotions:  scores,
		Image:     image,
	}
}

// NewDreamID returns a lexically time-sortable unique id.
func NewDreamID() string {
	return ulid.Make().String()
}

// Validate checks the record before it is appended.
func (d Dream) Validate() error {
	if d.ID == "" {
		return errors.New("dream has no id")
	}
	if err := d.Emotions.Validate(); err != nil {
		return err
	}
	if len(d.Image) == 0 {
		return errors.New("dream has no image")
	}
	return nil
}

// DreamStore is an ordered, append-only sequence of dreams.
type DreamStore interface {
	AppendDream(ctx context.Context, d Dream) error
	// ListDreams returns every dream, newest first.
	ListDreams(ctx context.Context) ([]Dream, error)
	GetDream(ctx context.Context, id string) (Dream, error)
	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"

	// LegacyFileName is the file the JSON backend reads and writes.
	LegacyFileName = "dreams.json"
)

// OpenBackend opens the store named by backend inside dataDir.
func OpenBackend(backend, dataDir string) (DreamStore, error) {
	switch backend {
	case "", BackendSQLite:
		s, err := Open(dataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendJSON:
		s, err := OpenJSON(filepath.Join(dataDir, LegacyFileName))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s or %s)", backend, BackendSQLite, BackendJSON)
	}
}
