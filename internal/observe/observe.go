// Package observe captures timestamped records from an external
// observation source into an append-only session log. The workflow
// never blocks on observation: it is an observability sink, not a
// correctness dependency.
package observe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one observed event.
type Record struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
}

// Source produces observation records. Poll returns whatever
// accumulated since the previous poll; it may return nothing.
type Source interface {
	Poll(ctx context.Context) ([]Record, error)
}

// Recorder appends records to one JSONL session file. Safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	sessionID string
	count     int
}

// NewRecorder opens a fresh session log under dir.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create observation dir: %w", err)
	}
	sessionID := uuid.NewString()
	path := filepath.Join(dir, "session_"+sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open observation log: %w", err)
	}
	return &Recorder{file: f, path: path, sessionID: sessionID}, nil
}

// SessionID returns this recorder's session identifier.
func (r *Recorder) SessionID() string { return r.sessionID }

// Path returns the session log path.
func (r *Recorder) Path() string { return r.path }

// Append writes one record. A record without a timestamp gets one.
func (r *Recorder) Append(rec Record) error {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	r.count++
	return nil
}

// Count returns how many records this session captured.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close flushes and closes the session log.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Watch polls the source at the given interval until ctx is done,
// appending everything it yields. Poll errors are tolerated: capture
// is best-effort and a flaky source must not surface into the
// workflow.
func (r *Recorder) Watch(ctx context.Context, source Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recs, err := source.Poll(ctx)
			if err != nil {
				continue
			}
			for _, rec := range recs {
				_ = r.Append(rec)
			}
		}
	}
}

// ReadSession loads every record from a session log. Torn trailing
// lines from an interrupted writer are skipped.
func ReadSession(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open observation log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read observation log: %w", err)
	}
	return records, nil
}
