// Package history keeps the most recent analysis results in memory and,
// optionally, an append-only log of every analysis.
package history

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oszuidwest/listening-workshop/internal/analysis"
	"github.com/oszuidwest/listening-workshop/internal/types"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

// Entry is one stored analysis.
type Entry struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Summary   string
	Image     []byte
	Features  *analysis.Features
	Err       string
}

// OK reports whether the analysis succeeded.
func (e *Entry) OK() bool {
	return e.Err == ""
}

// Summarize returns the list view of the entry.
func (e *Entry) Summarize() types.AnalysisSummary {
	s := types.AnalysisSummary{
		ID:        e.ID,
		Source:    e.Source,
		CreatedAt: e.CreatedAt,
		Success:   e.OK(),
		Error:     e.Err,
	}
	if e.Features != nil {
		s.DurationSec = e.Features.DurationSec
		s.Length = util.FormatClipLength(e.Features.DurationSec)
		s.TempoBPM = e.Features.TempoBPM
	}
	return s
}

// Store holds the newest results up to a fixed size. It is safe for
// concurrent use.
type Store struct {
	cache *lru.Cache[string, *Entry]
	log   *Logger
	now   func() time.Time
}

// NewStore creates a store for size entries. log may be nil.
func NewStore(size int, log *Logger) (*Store, error) {
	cache, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, util.WrapError("create history cache", err)
	}
	return &Store{cache: cache, log: log, now: time.Now}, nil
}

// Add records a result under a new ID and returns the stored entry.
func (s *Store) Add(source string, res analysis.Result) *Entry {
	entry := &Entry{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: s.now(),
		Summary:   res.Summary,
		Image:     res.Image,
		Features:  res.Features,
	}
	if res.Err != nil {
		entry.Err = res.Err.Error()
	}

	s.cache.Add(entry.ID, entry)

	event := &Event{
		Timestamp: entry.CreatedAt,
		Type:      EventCompleted,
		ID:        entry.ID,
		Source:    source,
		Error:     entry.Err,
	}
	if !entry.OK() {
		event.Type = EventFailed
	}
	if entry.Features != nil {
		event.DurationSec = entry.Features.DurationSec
		event.TempoBPM = entry.Features.TempoBPM
	}
	s.Record(event)

	return entry
}

// Record appends an event to the log, if one is configured.
func (s *Store) Record(event *Event) {
	if s.log == nil {
		return
	}
	if err := s.log.Log(event); err != nil {
		slog.Warn("failed to write history event", "id", event.ID, "error", err)
	}
}

// Get returns the entry with the given ID.
func (s *Store) Get(id string) (*Entry, bool) {
	return s.cache.Peek(id)
}

// List returns stored entries, newest first.
func (s *Store) List() []*Entry {
	keys := s.cache.Keys()
	entries := make([]*Entry, 0, len(keys))
	for _, id := range slices.Backward(keys) {
		if e, ok := s.cache.Peek(id); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// Summaries returns list views of stored entries, newest first.
func (s *Store) Summaries() []types.AnalysisSummary {
	entries := s.List()
	out := make([]types.AnalysisSummary, len(entries))
	for i, e := range entries {
		out[i] = e.Summarize()
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.cache.Len()
}

// LogPath returns the event log path, or "" when logging is disabled.
func (s *Store) LogPath() string {
	if s.log == nil {
		return ""
	}
	return s.log.Path()
}

// Close closes the event log.
func (s *Store) Close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}
