package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) ParseLine(_ context.Context, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// waitLines polls until n lines have arrived or the deadline passes.
func (r *lineRecorder) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.get(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	return r.get()
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func startTailer(t *testing.T, path string, rec *lineRecorder) (*LogTailer, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	tailer, err := NewLogTailer(LogConfig{Path: path, PollDelay: 10 * time.Millisecond}, rec, nil)
	if err != nil {
		t.Fatalf("NewLogTailer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tailer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tailer, cancel, done
}

func TestLogTailerSkipsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, []byte("old line 1\nold line 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	tailer, _, _ := startTailer(t, path, rec)
	if tailer.Offset() != int64(len("old line 1\nold line 2\n")) {
		t.Errorf("Offset() = %d", tailer.Offset())
	}

	appendFile(t, path, "new line\n")
	got := rec.waitLines(t, 1)
	if len(got) != 1 || got[0] != "new line" {
		t.Fatalf("lines = %q, want [new line]", got)
	}
}

func TestLogTailerDeliversAppendsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	startTailer(t, path, rec)

	appendFile(t, path, "a\nb\n")
	appendFile(t, path, "c\r\n")
	appendFile(t, path, "d\n")

	got := rec.waitLines(t, 4)
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLogTailerJoinsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	tailer, _, _ := startTailer(t, path, rec)

	appendFile(t, path, "  0:01 say: 1 Bob: he")
	time.Sleep(50 * time.Millisecond)
	if got := rec.get(); len(got) != 0 {
		t.Fatalf("partial line delivered early: %q", got)
	}

	appendFile(t, path, "llo\n")
	got := rec.waitLines(t, 1)
	if len(got) != 1 || got[0] != "  0:01 say: 1 Bob: hello" {
		t.Fatalf("lines = %q", got)
	}

	// Offset only advances past complete lines.
	time.Sleep(20 * time.Millisecond)
	if off := tailer.Offset(); off != int64(len("  0:01 say: 1 Bob: hello\n")) {
		t.Errorf("Offset() = %d", off)
	}
}

func TestLogTailerMissingFile(t *testing.T) {
	_, err := NewLogTailer(LogConfig{Path: filepath.Join(t.TempDir(), "nope.log")}, &lineRecorder{}, nil)
	if err == nil {
		t.Fatal("NewLogTailer succeeded on a missing file")
	}
}

func TestLogTailerUnknownEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewLogTailer(LogConfig{Path: path, Encoding: "klingon"}, &lineRecorder{}, nil)
	if err == nil {
		t.Fatal("NewLogTailer accepted an unknown encoding")
	}
}

func TestLogTailerDecodesLatin1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	tailer, err := NewLogTailer(LogConfig{Path: path, PollDelay: 10 * time.Millisecond, Encoding: "latin1"}, rec, nil)
	if err != nil {
		t.Fatalf("NewLogTailer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tailer.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	appendFile(t, path, "caf\xe9\n")
	got := rec.waitLines(t, 1)
	if len(got) != 1 || got[0] != "café" {
		t.Fatalf("lines = %q, want [café]", got)
	}
}

func TestLogTailerStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, cancel, done := startTailer(t, path, &lineRecorder{})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLogTailerTruncationDoesNotRewind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, []byte("0123456789\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	startTailer(t, path, rec)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "short\n")
	time.Sleep(100 * time.Millisecond)
	if got := rec.get(); len(got) != 0 {
		t.Fatalf("lines below the cursor were delivered: %q", got)
	}
}

func TestLogTailerShrinkDropsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	startTailer(t, path, rec)

	appendFile(t, path, "abc")
	time.Sleep(100 * time.Millisecond)
	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	// The cursor sits past the dropped fragment, three bytes into the new content.
	appendFile(t, path, "XXXXX\nnew\n")
	got := rec.waitLines(t, 2)
	if len(got) != 2 || got[0] != "XX" || got[1] != "new" {
		t.Fatalf("lines = %q, want [XX new]", got)
	}
}

func TestLogTailerReopensAfterReadError(t *testing.T) {
	logs := captureLog(t)
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	tailer, err := NewLogTailer(LogConfig{Path: path, PollDelay: 10 * time.Millisecond}, rec, nil)
	if err != nil {
		t.Fatalf("NewLogTailer: %v", err)
	}

	appendFile(t, path, "a\n")
	if line, ok, err := tailer.readLine(); err != nil || !ok || string(line) != "a" {
		t.Fatalf("readLine = %q, %v, %v", line, ok, err)
	}
	tailer.file.Close()
	appendFile(t, path, "b\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tailer.Run(ctx)
	}()
	got := rec.waitLines(t, 1)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got = rec.get(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("lines = %q, want [b]", got)
	}
	if off := tailer.Offset(); off != 4 {
		t.Errorf("Offset() = %d, want 4", off)
	}
	if !strings.Contains(logs.String(), "log tail: read") {
		t.Errorf("read error not logged: %q", logs.String())
	}
}

func TestLogTailerLogsCloseError(t *testing.T) {
	logs := captureLog(t)
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &lineRecorder{}
	tailer, err := NewLogTailer(LogConfig{Path: path}, rec, nil)
	if err != nil {
		t.Fatalf("NewLogTailer: %v", err)
	}
	tailer.file.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tailer.Run(ctx)

	out := logs.String()
	if !strings.Contains(out, "log tail: close") {
		t.Errorf("close error not logged: %q", out)
	}
	if strings.Contains(out, "log tail: read") || len(rec.get()) != 0 {
		t.Errorf("cancelled Run did more than close: %q", out)
	}
}
