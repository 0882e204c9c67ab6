package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/listening-workshop/internal/util"
)

// EventType represents the outcome recorded for an analysis.
type EventType string

const (
	EventCompleted EventType = "analysis_completed"
	EventFailed    EventType = "analysis_failed"
	EventExported  EventType = "analysis_exported"
)

// Event is one line of the event log.
type Event struct {
	Timestamp   time.Time `json:"ts"`
	Type        EventType `json:"type"`
	ID          string    `json:"id"`
	Source      string    `json:"source,omitempty"`
	DurationSec float64   `json:"duration_sec,omitempty"`
	TempoBPM    float64   `json:"tempo_bpm,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Logger writes analysis events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger opens filePath for appending, creating it and its directory.
func NewLogger(filePath string) (*Logger, error) {
	if err := util.CheckPathWritable(filepath.Dir(filePath)); err != nil {
		return nil, util.WrapError("prepare log directory", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, util.WrapError("open event log", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// ReadLast reads the last n events from the log file, newest first.
// A missing file yields no events.
func ReadLast(filePath string, n int) ([]Event, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	// Ring of the last n lines.
	ring := make([]string, 0, max(n, 0))
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], scanner.Text())
			continue
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(ring[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	return events, nil
}
