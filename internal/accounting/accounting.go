// Package accounting tracks how many pipeline requests are waiting for a
// worker and how many are executing. Each Counters value is independent, so
// tests and embedded processors never share state.
package accounting

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type Snapshot struct {
	Queued   int64 `json:"queue"`
	InFlight int64 `json:"process"`
}

type Counters struct {
	queued   atomic.Int64
	inFlight atomic.Int64

	queuedGauge   prometheus.Gauge
	inFlightGauge prometheus.Gauge
}

// New returns zeroed counters. When reg is non-nil the counters are also
// exported as gauges.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		queuedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpipe_pipeline_queued",
			Help: "Pipeline requests submitted but not yet started.",
		}),
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpipe_pipeline_in_flight",
			Help: "Pipeline requests currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.queuedGauge, c.inFlightGauge)
	}
	return c
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{Queued: c.queued.Load(), InFlight: c.inFlight.Load()}
}

// Enqueue records a submitted request. The returned ticket moves it through
// start and finish exactly once each.
func (c *Counters) Enqueue() *Ticket {
	c.queuedGauge.Set(float64(c.queued.Add(1)))
	return &Ticket{counters: c}
}

// Ticket is one request's passage through the counters.
type Ticket struct {
	counters *Counters
	start    sync.Once
	finish   sync.Once
	started  atomic.Bool
}

// Start moves the request from queued to in flight.
func (t *Ticket) Start() {
	t.start.Do(func() {
		c := t.counters
		c.queuedGauge.Set(float64(c.queued.Add(-1)))
		c.inFlightGauge.Set(float64(c.inFlight.Add(1)))
		t.started.Store(true)
	})
}

// Finish releases the request. A ticket finished before it started leaves
// the queue without ever counting as in flight.
func (t *Ticket) Finish() {
	t.finish.Do(func() {
		c := t.counters
		if !t.started.Load() {
			t.start.Do(func() {})
			c.queuedGauge.Set(float64(c.queued.Add(-1)))
			return
		}
		c.inFlightGauge.Set(float64(c.inFlight.Add(-1)))
	})
}
