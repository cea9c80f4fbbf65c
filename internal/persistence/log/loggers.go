// Package log writes hourly-rotated, zstd-compressed JSONL records.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends one record. Each call is flushed through the encoder so a
// crash loses at most the current zstd block.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TimingEntry is one measured phase.
type TimingEntry struct {
	Time  time.Time `json:"time"`
	Name  string    `json:"name"`
	Nanos int64     `json:"ns"`
}

// TimingLogger writes one JSONL entry per measured phase.
type TimingLogger struct{ w *JSONLZstdWriter }

func NewTimingLogger(dir string) *TimingLogger {
	return &TimingLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "timings"), "timings")}
}

func (l *TimingLogger) WriteTiming(v TimingEntry) error { return l.w.Write(v) }
func (l *TimingLogger) Close() error                    { return l.w.Close() }

// BuildEntry records one finished world build.
type BuildEntry struct {
	Time       time.Time `json:"time"`
	BuildID    string    `json:"build_id"`
	WorldID    string    `json:"world_id"`
	Generation uint64    `json:"generation"`
	Bricks     int       `json:"bricks"`
	Nodes      int       `json:"nodes"`
	Skipped    int       `json:"skipped"`
	Millis     int64     `json:"ms"`
	Err        string    `json:"err,omitempty"`
}

// BuildLogger writes one JSONL entry per world build.
type BuildLogger struct{ w *JSONLZstdWriter }

func NewBuildLogger(dir string) *BuildLogger {
	return &BuildLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "builds"), "builds")}
}

func (l *BuildLogger) WriteBuild(v BuildEntry) error { return l.w.Write(v) }
func (l *BuildLogger) Close() error                  { return l.w.Close() }
