package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const nameLabel = "name"

// Prometheus exports timings as a histogram and carries the world gauges.
type Prometheus struct {
	timings *prometheus.HistogramVec

	Builds       *prometheus.CounterVec
	Nodes        prometheus.Gauge
	Bricks       prometheus.Gauge
	Generation   prometheus.Gauge
	Subscribers  prometheus.Gauge
	FramesSent   prometheus.Counter
	SkippedBrick prometheus.Counter
}

// NewPrometheus registers every collector on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		timings: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brickstream_phase_seconds",
			Help:    "Duration of timed phases.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}, []string{nameLabel}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brickstream_builds_total",
			Help: "World builds by outcome.",
		}, []string{"outcome"}),
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "brickstream_nodes",
			Help: "Node arena length of the live tree.",
		}),
		Bricks: f.NewGauge(prometheus.GaugeOpts{
			Name: "brickstream_bricks",
			Help: "Allocated bricks in the live tree.",
		}),
		Generation: f.NewGauge(prometheus.GaugeOpts{
			Name: "brickstream_generation",
			Help: "Generation of the live world.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "brickstream_stream_subscribers",
			Help: "Connected stream clients.",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "brickstream_frames_sent_total",
			Help: "Instance frames sent to stream clients.",
		}),
		SkippedBrick: f.NewCounter(prometheus.CounterOpts{
			Name: "brickstream_bricks_skipped_total",
			Help: "Bricks that failed placement during builds.",
		}),
	}
}

func (p *Prometheus) Observe(name string, d time.Duration) {
	p.timings.With(prometheus.Labels{nameLabel: name}).Observe(d.Seconds())
}
