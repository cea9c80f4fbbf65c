package metrics

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Summary is the digest of one named series between flushes.
type Summary struct {
	Name   string
	Count  int
	Avg    time.Duration
	Min    time.Duration
	Max    time.Duration
	Median time.Duration
}

type series struct {
	total    time.Duration
	min, max time.Duration
	values   []time.Duration
}

// Aggregator keeps every observation since the last flush and summarizes them
// on demand.
type Aggregator struct {
	mu   sync.Mutex
	data map[string]*series
}

func NewAggregator() *Aggregator {
	return &Aggregator{data: map[string]*series{}}
}

func (a *Aggregator) Observe(name string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.data[name]
	if !ok {
		s = &series{min: d, max: d}
		a.data[name] = s
	}
	s.total += d
	s.min = min(s.min, d)
	s.max = max(s.max, d)
	s.values = append(s.values, d)
}

// Snapshot summarizes the current series sorted by name without resetting them.
func (a *Aggregator) Snapshot() []Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summarizeLocked()
}

// Flush summarizes and clears.
func (a *Aggregator) Flush() []Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.summarizeLocked()
	clear(a.data)
	return out
}

func (a *Aggregator) summarizeLocked() []Summary {
	out := make([]Summary, 0, len(a.data))
	for name, s := range a.data {
		n := len(s.values)
		sorted := slices.Clone(s.values)
		slices.Sort(sorted)
		out = append(out, Summary{
			Name:   name,
			Count:  n,
			Avg:    s.total / time.Duration(n),
			Min:    s.min,
			Max:    s.max,
			Median: sorted[n/2],
		})
	}
	slices.SortFunc(out, func(x, y Summary) int {
		switch {
		case x.Name < y.Name:
			return -1
		case x.Name > y.Name:
			return 1
		}
		return 0
	})
	return out
}

// Run flushes to log every interval until ctx is done, then flushes once more.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Log(log)
			return
		case <-t.C:
			a.Log(log)
		}
	}
}

// Log flushes and writes one line per series.
func (a *Aggregator) Log(log *zap.Logger) {
	for _, s := range a.Flush() {
		log.Info("timing",
			zap.String("name", s.Name),
			zap.String("count", humanize.Comma(int64(s.Count))),
			zap.String("avg", FormatDuration(s.Avg)),
			zap.String("min", FormatDuration(s.Min)),
			zap.String("max", FormatDuration(s.Max)),
			zap.String("median", FormatDuration(s.Median)),
		)
	}
}

// FormatDuration renders d with a unit suited to its magnitude.
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%d ns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.2f µs", float64(d.Nanoseconds())/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.2f ms", float64(d.Nanoseconds())/1e6)
	case d < time.Minute:
		return fmt.Sprintf("%.2f s", secs)
	case d < time.Hour:
		m := int(secs) / 60
		return fmt.Sprintf("%dm %.2fs", m, secs-float64(m*60))
	default:
		h := int(secs) / 3600
		m := (int(secs) % 3600) / 60
		return fmt.Sprintf("%dh %dm %.2fs", h, m, secs-float64(h*3600+m*60))
	}
}
