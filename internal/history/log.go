// Package history persists chat interactions to a single JSON file.
//
// One goroutine owns the file. Appends and reads are sent to it over a
// channel and handled in arrival order, so concurrent requests cannot lose
// each other's entries and readers never see a partially written file.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/n0madic/go-mmgateway/internal/types"
)

// queueSize bounds how many operations may wait for the writer goroutine.
const queueSize = 64

// ErrClosed is returned by ReadAll after Close.
var ErrClosed = errors.New("history log closed")

type readResult struct {
	entries []types.HistoryEntry
	err     error
}

type op struct {
	entry *types.HistoryEntry
	read  chan readResult
}

// Log is an append-only interaction history backed by a JSON array on disk.
type Log struct {
	path     string
	onAppend func(error)
	now      func() time.Time

	ops    chan op
	stopCh chan struct{}
	done   chan struct{}

	// Owned by the run goroutine.
	entries []types.HistoryEntry
	loaded  bool
}

// New starts a history log writing to path. onAppend, if non-nil, is called
// from the writer goroutine with the outcome of every append.
// The caller must call Close to stop the writer.
func New(path string, onAppend func(error)) *Log {
	l := &Log{
		path:     path,
		onAppend: onAppend,
		now:      time.Now,
		ops:      make(chan op, queueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }

// Append records one interaction. It never fails from the caller's point of
// view: write errors are logged and reported to the onAppend hook.
func (l *Log) Append(userMessage, aiResponse string) {
	entry := types.NewHistoryEntry(userMessage, aiResponse, l.now())
	select {
	case <-l.stopCh:
		slog.Warn("history.append.dropped", "path", l.path, "reason", "log closed")
		return
	default:
	}
	select {
	case l.ops <- op{entry: &entry}:
	case <-l.stopCh:
		slog.Warn("history.append.dropped", "path", l.path, "reason", "log closed")
	}
}

// ReadAll returns every entry in append order. It observes all appends made
// before it was called. A missing file yields an empty slice.
func (l *Log) ReadAll(ctx context.Context) ([]types.HistoryEntry, error) {
	reply := make(chan readResult, 1)
	select {
	case l.ops <- op{read: reply}:
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.entries, r.err
	case <-l.done:
		select {
		case r := <-reply:
			return r.entries, r.err
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close handles every queued operation, then stops the writer.
func (l *Log) Close() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.done
}

func (l *Log) run() {
	defer close(l.done)
	for {
		select {
		case o := <-l.ops:
			l.handle(o)
		case <-l.stopCh:
			for {
				select {
				case o := <-l.ops:
					l.handle(o)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) handle(o op) {
	switch {
	case o.entry != nil:
		err := l.append(*o.entry)
		if err != nil {
			slog.Error("history.append.failed", "path", l.path, "error", err)
		}
		if l.onAppend != nil {
			l.onAppend(err)
		}
	case o.read != nil:
		if err := l.load(); err != nil {
			o.read <- readResult{err: err}
			return
		}
		out := make([]types.HistoryEntry, len(l.entries))
		copy(out, l.entries)
		o.read <- readResult{entries: out}
	}
}

func (l *Log) append(entry types.HistoryEntry) error {
	if err := l.load(); err != nil {
		return err
	}
	l.entries = append(l.entries, entry)
	if err := writeFile(l.path, l.entries); err != nil {
		// Keep memory identical to what is on disk.
		l.entries = l.entries[:len(l.entries)-1]
		return err
	}
	return nil
}

// load reads the file once. A file that cannot be parsed is left untouched
// and retried on the next operation.
func (l *Log) load() error {
	if l.loaded {
		return nil
	}
	entries, err := Load(l.path)
	if err != nil {
		return err
	}
	l.entries = entries
	l.loaded = true
	return nil
}

// Load reads the history file at path without going through a Log. A missing
// or empty file yields an empty slice.
func Load(path string) ([]types.HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []types.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []types.HistoryEntry{}, nil
	}
	var entries []types.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	return entries, nil
}

// writeFile replaces path with entries via a temp file and rename.
func writeFile(path string, entries []types.HistoryEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create history dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace history %s: %w", path, err)
	}
	return nil
}
