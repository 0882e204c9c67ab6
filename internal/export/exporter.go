// Package export uploads finished analyses to S3-compatible object storage.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

const (
	queueSize     = 16
	uploadTimeout = 2 * time.Minute
)

// Item is one analysis to export.
type Item struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Summary   string    `json:"summary"`
	Features  any       `json:"features,omitempty"`
	Image     []byte    `json:"-"`
}

// Keys returns the object keys for the item's image and metadata.
func (it Item) Keys(prefix string) (image, meta string) {
	base := joinKey(prefix, it.CreatedAt.UTC().Format("2006-01-02"), it.ID)
	return base + ".png", base + ".json"
}

// Exporter uploads items on a background worker. It is safe for concurrent use.
type Exporter struct {
	cfg    config.S3Config
	store  objectStore
	queue  chan Item
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// mu orders queue sends before the close of stopCh, so the worker's
	// final drain sees every accepted item.
	mu      sync.Mutex
	stopped bool

	// OnDone, when set, is called after each upload attempt.
	OnDone func(id string, err error)
}

// New starts an exporter for cfg. It returns ErrNotConfigured when bucket or
// credentials are missing.
func New(cfg config.S3Config) (*Exporter, error) {
	if !isConfigured(cfg) {
		return nil, ErrNotConfigured
	}
	return newExporter(cfg, newS3Client(cfg)), nil
}

func newExporter(cfg config.S3Config, store objectStore) *Exporter {
	e := &Exporter{
		cfg:    cfg,
		store:  store,
		queue:  make(chan Item, queueSize),
		stopCh: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Enqueue queues an item for upload. It reports false when the queue is
// full or the exporter is stopped.
func (e *Exporter) Enqueue(it Item) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}

	select {
	case e.queue <- it:
		slog.Info("queued analysis for export", "id", it.ID)
		return true
	default:
		slog.Warn("export queue full", "id", it.ID)
		return false
	}
}

// Stop drains queued items and stops the worker.
func (e *Exporter) Stop() {
	e.once.Do(func() {
		e.mu.Lock()
		e.stopped = true
		close(e.stopCh)
		e.mu.Unlock()
	})
	e.wg.Wait()
}

// TestConnection checks the bucket the exporter writes to.
func (e *Exporter) TestConnection(ctx context.Context) error {
	return testConnection(ctx, e.store, e.cfg)
}

// worker processes the queue, draining remaining items on shutdown.
func (e *Exporter) worker() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in export worker", "panic", r)
		}
	}()

	for {
		select {
		case <-e.stopCh:
			for {
				select {
				case it := <-e.queue:
					e.upload(it)
				default:
					return
				}
			}
		case it := <-e.queue:
			e.upload(it)
		}
	}
}

func (e *Exporter) upload(it Item) {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	err := e.put(ctx, it)
	if err != nil {
		slog.Error("export failed", "id", it.ID, "error", err)
	} else {
		slog.Info("analysis exported", "id", it.ID, "bucket", e.cfg.Bucket)
	}
	if e.OnDone != nil {
		e.OnDone(it.ID, err)
	}
}

func (e *Exporter) put(ctx context.Context, it Item) error {
	imageKey, metaKey := it.Keys(e.cfg.Prefix)

	meta, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return util.WrapError("encode export metadata", err)
	}

	if len(it.Image) > 0 {
		if err := putObject(ctx, e.store, e.cfg.Bucket, imageKey, "image/png", it.Image); err != nil {
			return util.WrapError("upload spectrogram", err)
		}
	}
	if err := putObject(ctx, e.store, e.cfg.Bucket, metaKey, "application/json", meta); err != nil {
		return util.WrapError("upload metadata", err)
	}
	return nil
}

func joinKey(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			clean = append(clean, p)
		}
	}
	return path.Join(clean...)
}
