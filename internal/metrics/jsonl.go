package metrics

import (
	"time"

	"go.uber.org/zap"

	plog "brickstream.ai/internal/persistence/log"
)

// JSONL appends every observation to a compressed timing log. Write failures
// are logged and dropped.
type JSONL struct {
	l   *plog.TimingLogger
	log *zap.Logger
}

func NewJSONL(dir string, log *zap.Logger) *JSONL {
	return &JSONL{l: plog.NewTimingLogger(dir), log: log}
}

func (j *JSONL) Observe(name string, d time.Duration) {
	err := j.l.WriteTiming(plog.TimingEntry{Time: time.Now().UTC(), Name: name, Nanos: d.Nanoseconds()})
	if err != nil {
		j.log.Warn("timing log write failed", zap.String("name", name), zap.Error(err))
	}
}

func (j *JSONL) Close() error { return j.l.Close() }
