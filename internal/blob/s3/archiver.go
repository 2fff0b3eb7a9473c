package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 5 * 1024 * 1024

// ArchiverConfig controls batching.
type ArchiverConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Archiver buffers terminal positions and writes them as JSONL objects at
// ledger/positions/YYYY/MM/DD/<unix>.jsonl. A batch is flushed when it
// reaches BatchSize, on every Interval, and on shutdown. A failed upload
// keeps the batch for the next attempt.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	cfg    ArchiverConfig
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	pending []domain.Position
	flushMu sync.Mutex
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Archiver{
		writer: writer,
		audit:  audit,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// WithClock overrides the clock used for object paths.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// Add queues a position and flushes when the batch is full.
func (a *Archiver) Add(ctx context.Context, pos domain.Position) error {
	a.mu.Lock()
	a.pending = append(a.pending, pos)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		_, err := a.Flush(ctx)
		return err
	}
	return nil
}

// Pending returns the number of buffered positions.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush uploads the buffered positions and returns the object path, or ""
// when there was nothing to write.
func (a *Archiver) Flush(ctx context.Context) (string, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}

	path, err := a.upload(ctx, batch)
	if err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return "", err
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":  path,
			"count": len(batch),
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	a.logger.InfoContext(ctx, "positions archived",
		slog.String("path", path),
		slog.Int("count", len(batch)),
	)
	return path, nil
}

func (a *Archiver) upload(ctx context.Context, batch []domain.Position) (string, error) {
	buf, err := marshalJSONL(batch)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(a.now().UTC())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return path, nil
}

// Run flushes on every interval until ctx is cancelled, then flushes once
// more.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := a.Flush(flushCtx); err != nil {
				a.logger.ErrorContext(flushCtx, "final archive flush failed",
					slog.Int("pending", a.Pending()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.logger.WarnContext(ctx, "archive flush failed",
					slog.Int("pending", a.Pending()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archivePath builds the object key for a batch written at t.
//
//	ledger/positions/2026/10/16/1792152000.jsonl
func archivePath(t time.Time) string {
	return fmt.Sprintf("ledger/positions/%s/%d.jsonl", t.Format("2006/01/02"), t.Unix())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
