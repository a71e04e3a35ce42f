package observe

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu    sync.Mutex
	queue []Record
	err   error
}

func (f *fakeSource) Poll(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.queue
	f.queue = nil
	return out, nil
}

func (f *fakeSource) push(recs ...Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, recs...)
}

func TestRecorder_AppendAndRead(t *testing.T) {
	rec, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	if rec.SessionID() == "" {
		t.Error("empty session id")
	}

	if err := rec.Append(Record{Text: "login screen visible", Kind: "screen"}); err != nil {
		t.Fatal(err)
	}
	if err := rec.Append(Record{Text: "running checkout", Kind: "thought"}); err != nil {
		t.Fatal(err)
	}
	if rec.Count() != 2 {
		t.Errorf("count = %d, want 2", rec.Count())
	}

	records, err := ReadSession(rec.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("read %d records, want 2", len(records))
	}
	if records[0].Text != "login screen visible" || records[0].Timestamp == "" {
		t.Errorf("first record: %+v", records[0])
	}
}

func TestRecorder_SeparateSessions(t *testing.T) {
	dir := t.TempDir()
	a, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a.SessionID() == b.SessionID() {
		t.Error("two recorders share a session id")
	}
	if a.Path() == b.Path() {
		t.Error("two recorders share a log file")
	}
}

func TestReadSession_SkipsTornLine(t *testing.T) {
	rec, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Append(Record{Text: "ok", Kind: "screen"}); err != nil {
		t.Fatal(err)
	}
	rec.Close()

	f, err := os.OpenFile(rec.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"timestamp":"2026-01-01T`)
	f.Close()

	records, err := ReadSession(rec.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("torn tail not skipped: %d records", len(records))
	}
}

func TestRecorder_Watch(t *testing.T) {
	rec, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	src := &fakeSource{}
	src.push(Record{Text: "first", Kind: "screen"}, Record{Text: "second", Kind: "screen"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Watch(ctx, src, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for rec.Count() < 2 {
		select {
		case <-deadline:
			t.Fatal("watch never captured the queued records")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancellation")
	}
}
