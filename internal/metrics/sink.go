// Package metrics collects phase timings. A Sink is always injected; there is
// no process-wide registry of timings.
package metrics

import "time"

type Sink interface {
	Observe(name string, d time.Duration)
}

type nop struct{}

func (nop) Observe(string, time.Duration) {}

// Nop discards every observation.
func Nop() Sink { return nop{} }

type multi []Sink

func (m multi) Observe(name string, d time.Duration) {
	for _, s := range m {
		s.Observe(name, d)
	}
}

// Multi fans observations out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Timeit runs f and reports its wall time under name, whether or not f fails.
func Timeit(s Sink, name string, f func() error) error {
	start := time.Now()
	err := f()
	s.Observe(name, time.Since(start))
	return err
}

// Since reports the time elapsed from start. Intended for defer.
func Since(s Sink, name string, start time.Time) {
	s.Observe(name, time.Since(start))
}
