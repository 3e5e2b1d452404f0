package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// LineConsumer receives every complete line appended to the log.
type LineConsumer interface {
	ParseLine(ctx context.Context, line string)
}

// LogTailer follows a growing log file from the size it had when the tailer
// was created. Lines are delivered in file order, each exactly once.
type LogTailer struct {
	path     string
	consumer LineConsumer
	delay    time.Duration
	decoder  *encoding.Decoder
	metrics  *Metrics

	file    *os.File
	reader  *bufio.Reader
	offset  atomic.Int64
	partial []byte
	warned  bool
}

// NewLogTailer opens path and seeks to its end. Content already in the file is
// never delivered.
func NewLogTailer(cfg LogConfig, consumer LineConsumer, m *Metrics) (*LogTailer, error) {
	dec, err := lookupDecoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	t := &LogTailer{
		path:     cfg.Path,
		consumer: consumer,
		delay:    cfg.PollDelay,
		decoder:  dec,
		metrics:  m,
	}
	if t.delay <= 0 {
		t.delay = 100 * time.Millisecond
	}

	file, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", cfg.Path, err)
	}
	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("seek to end of %s: %w", cfg.Path, err)
	}
	t.file = file
	t.offset.Store(pos)
	t.reader = bufio.NewReader(file)
	return t, nil
}

func lookupDecoder(name string) (*encoding.Decoder, error) {
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("log encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc.NewDecoder(), nil
}

// Offset returns the byte offset just past the last delivered line.
func (t *LogTailer) Offset() int64 { return t.offset.Load() }

// Run delivers lines until ctx is cancelled, then closes the file.
func (t *LogTailer) Run(ctx context.Context) {
	log.Printf("tailing %s from offset %d", t.path, t.offset.Load())
	defer func() {
		if err := t.file.Close(); err != nil {
			log.Printf("log tail: close %s: %v", t.path, err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		line, ok, err := t.readLine()
		if err != nil {
			log.Printf("log tail: read %s at offset %d: %v", t.path, t.offset.Load(), err)
			t.reopen()
		}
		if ok {
			t.deliver(ctx, line)
			continue
		}

		t.checkTruncated()
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.delay):
		}
	}
}

// readLine returns the next complete line. A trailing fragment without a
// newline is kept until the rest of the line is appended.
func (t *LogTailer) readLine() ([]byte, bool, error) {
	chunk, err := t.reader.ReadBytes('\n')
	t.partial = append(t.partial, chunk...)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, err
	}

	line := t.partial
	t.partial = nil
	t.offset.Add(int64(len(line)))
	return bytes.TrimRight(line, "\r\n"), true, nil
}

func (t *LogTailer) deliver(ctx context.Context, raw []byte) {
	line := string(raw)
	if t.decoder != nil {
		decoded, err := t.decoder.String(line)
		if err != nil {
			log.Printf("log tail: decode line at offset %d: %v", t.offset.Load(), err)
			return
		}
		line = decoded
	}
	t.metrics.LogLine()
	t.consumer.ParseLine(ctx, line)
}

// reopen replaces the file handle after a read error, keeping the cursor.
// Bytes of a pending partial line were already consumed and stay buffered.
func (t *LogTailer) reopen() {
	file, err := os.Open(t.path)
	if err != nil {
		log.Printf("log tail: reopen %s: %v", t.path, err)
		return
	}
	resume := t.offset.Load() + int64(len(t.partial))
	if _, err := file.Seek(resume, io.SeekStart); err != nil {
		log.Printf("log tail: seek %s to %d: %v", t.path, resume, err)
		file.Close()
		return
	}
	t.file.Close()
	t.file = file
	t.reader.Reset(file)
}

// checkTruncated warns once when the file shrinks below the cursor. The cursor
// is not moved back; reading resumes when the file grows past it again. A
// pending partial line is discarded, its bytes counted as consumed, so it is
// never joined to whatever is written after the truncation.
func (t *LogTailer) checkTruncated() {
	info, err := t.file.Stat()
	if err != nil {
		return
	}
	resume := t.offset.Load() + int64(len(t.partial))
	if info.Size() < resume {
		if !t.warned {
			log.Printf("log tail: %s shrank to %d bytes, below cursor %d", t.path, info.Size(), resume)
			t.warned = true
		}
		if len(t.partial) > 0 {
			log.Printf("log tail: dropping %d-byte partial line at offset %d", len(t.partial), t.offset.Load())
			t.offset.Add(int64(len(t.partial)))
			t.partial = nil
		}
		return
	}
	t.warned = false
}
