package r2s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Uploader is the part of Client the mirror depends on.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) (int64, error)
}

// Result reports the outcome of one mirrored file.
type Result struct {
	Path       string
	Key        string
	Bytes      int64
	UploadedAt time.Time
	Err        error
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type MirrorOptions struct {
	DataDir       string
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Attempts      int
	Backoff       time.Duration
	// OnResult runs on the worker goroutine after every upload attempt chain.
	OnResult func(Result)
}

// Mirror uploads snapshot files written under DataDir in the background.
// Object keys are the path relative to DataDir, under Prefix.
type Mirror struct {
	up       Uploader
	dataDir  string
	prefix   string
	log      *zap.Logger
	attempts int
	backoff  time.Duration
	onResult func(Result)

	ctx    context.Context
	cancel context.CancelFunc

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(up Uploader, opts MirrorOptions, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		up:          up,
		dataDir:     opts.DataDir,
		prefix:      strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		log:         log.Named("mirror"),
		attempts:    opts.Attempts,
		backoff:     opts.Backoff,
		onResult:    opts.OnResult,
		ctx:         ctx,
		cancel:      cancel,
		jobs:        make(chan string, opts.QueueCapacity),
		enqueueWait: opts.EnqueueWait,
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// queue space and drops the file after that.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.log.Warn("mirror drop",
			zap.String("path", localPath),
			zap.String("reason", "queue_saturated"),
			zap.Duration("wait", m.enqueueWait),
			zap.Uint64("dropped_total", dropped))
	}
}

// Close drains queued uploads and stops the workers. Retries still waiting on
// backoff are abandoned.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.jobs)
		m.wg.Wait()
		m.cancel()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.log.Warn("mirror skip", zap.String("path", localPath), zap.Error(err))
		m.report(Result{Path: localPath, Err: err})
		return
	}

	n, err := m.uploadWithRetry(key, localPath)
	now := time.Now().UTC()
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(now.Unix())
		fields := []zap.Field{zap.String("key", key), zap.String("path", localPath), zap.Error(err)}
		var se *StatusError
		if errors.As(err, &se) {
			fields = append(fields, zap.Int("status", se.Status), zap.String("body", se.Body))
		}
		m.log.Error("mirror upload failed", fields...)
		m.report(Result{Path: localPath, Key: key, UploadedAt: now, Err: err})
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(now.Unix())
	m.log.Info("mirror uploaded", zap.String("key", key), zap.Int64("bytes", n))
	m.report(Result{Path: localPath, Key: key, Bytes: n, UploadedAt: now})
}

func (m *Mirror) report(r Result) {
	if m.onResult != nil {
		m.onResult(r)
	}
}

func (m *Mirror) uploadWithRetry(key, localPath string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(m.ctx, 2*time.Minute)
		n, err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return n, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return 0, err
		}
		if attempt < m.attempts {
			backoff := time.Duration(attempt*attempt) * m.backoff
			select {
			case <-time.After(backoff):
			case <-m.ctx.Done():
				return 0, lastErr
			}
		}
	}
	return 0, lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}

	key := rel
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}
