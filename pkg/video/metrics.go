package video

import "github.com/prometheus/client_golang/prometheus"

// Frame outcomes reported to Metrics.
const (
	OutcomeAccepted      = "accepted"
	OutcomeNotReady      = "not_ready"
	OutcomeOutOfOrder    = "out_of_order"
	OutcomeSizeMismatch  = "size_mismatch"
	OutcomeInvalidBuffer = "invalid_buffer"
)

// Metrics collects recorder counters. A nil *Metrics records nothing.
type Metrics struct {
	frames   *prometheus.CounterVec
	sessions *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the recorder collectors and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simdrive_recorder_frames_total",
				Help: "Frames offered to the session recorder, by outcome.",
			},
			[]string{"outcome"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simdrive_recorder_sessions_total",
				Help: "Recorder sessions that reached a terminal state.",
			},
			[]string{"state"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "simdrive_recorder_duration_seconds",
				Help:    "Duration of finalized recordings.",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.sessions, m.duration)
	}
	return m
}

func (m *Metrics) frame(outcome string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(outcome).Inc()
}

func (m *Metrics) terminal(state State, seconds float64) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state.String()).Inc()
	if state == StateFinalized {
		m.duration.Observe(seconds)
	}
}
