package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/telhawk-systems/flowguard/internal/ingest"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/models"
)

// Tailer follows a log file from its current end and submits each new line
// as a log record. Lines are batched up to BatchSize or FlushInterval.
type Tailer struct {
	path          string
	sink          ingest.Sink
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial strings.Builder
	pending []models.LogRecord

	ready chan struct{}
}

// NewTailer creates a Tailer for path.
func NewTailer(path string, sink ingest.Sink, logger *slog.Logger) *Tailer {
	return &Tailer{
		path:          filepath.Clean(path),
		sink:          sink,
		batchSize:     100,
		flushInterval: time.Second,
		now:           time.Now,
		logger:        logging.OrDefault(logger).With(slog.String("collector", "tail"), slog.String("path", path)),
		ready:         make(chan struct{}),
	}
}

// WithBatching sets the batch size and the maximum time a line waits.
func (t *Tailer) WithBatching(size int, interval time.Duration) *Tailer {
	if size > 0 {
		t.batchSize = size
	}
	if interval > 0 {
		t.flushInterval = interval
	}
	return t
}

// Run tails the file until ctx is cancelled. Truncated files are re-read
// from the start; rotated files are reopened when they reappear.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.open(true); err != nil {
		return err
	}
	defer t.closeFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so rotation (remove + create) is observed.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(t.path), err)
	}

	t.logger.Info("tailing file")
	close(t.ready)

	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.readLines()
			t.flush(context.WithoutCancel(ctx))
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			t.handleEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Error("watcher error", logging.Error(err))

		case <-ticker.C:
			// Poll as well; some filesystems do not report writes.
			t.readLines()
			t.flush(ctx)
		}
	}
}

func (t *Tailer) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		t.closeFile()
		if err := t.open(false); err != nil {
			t.logger.Warn("failed to reopen rotated file", logging.Error(err))
			return
		}
		t.logger.Info("file recreated, reading from start")
		t.readLines()

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		t.readLines()
		t.closeFile()

	case event.Has(fsnotify.Write):
		t.readLines()
	}

	if len(t.pending) >= t.batchSize {
		t.flush(ctx)
	}
}

// open opens the file, seeking to its end when fromEnd is set.
func (t *Tailer) open(fromEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.path, err)
	}

	var offset int64
	if fromEnd {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to seek %s: %w", t.path, err)
		}
	}

	t.file = f
	t.reader = bufio.NewReader(f)
	t.offset = offset
	t.partial.Reset()
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

// readLines consumes complete lines appended since the last read. A trailing
// line without a newline is held until it is completed.
func (t *Tailer) readLines() {
	if t.file == nil {
		return
	}

	if info, err := t.file.Stat(); err == nil && info.Size() < t.offset {
		t.logger.Info("file truncated, reading from start")
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			t.logger.Warn("failed to rewind truncated file", logging.Error(err))
			return
		}
		t.reader.Reset(t.file)
		t.offset = 0
		t.partial.Reset()
	}

	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		t.partial.WriteString(chunk)

		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn("failed to read file", logging.Error(err))
			}
			return
		}

		line := strings.TrimRight(t.partial.String(), "\r\n")
		t.partial.Reset()
		if strings.TrimSpace(line) == "" {
			continue
		}
		t.pending = append(t.pending, RecordFromLine(line, t.now()))
	}
}

func (t *Tailer) flush(ctx context.Context) {
	if len(t.pending) == 0 {
		return
	}

	batch := ingest.NewLogBatch(t.pending)
	t.pending = nil

	if err := t.sink.Submit(ctx, batch); err != nil {
		t.logger.Warn("dropping tailed lines", logging.BatchID(batch.ID), logging.Count(len(batch.Logs)), logging.Error(err))
		metrics.CollectorRecords.WithLabelValues("tail", "dropped").Add(float64(len(batch.Logs)))
		return
	}
	metrics.CollectorRecords.WithLabelValues("tail", "submitted").Add(float64(len(batch.Logs)))
	t.logger.Debug("submitted tailed lines", logging.BatchID(batch.ID), logging.Count(len(batch.Logs)))
}
