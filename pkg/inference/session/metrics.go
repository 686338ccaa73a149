package session

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Streams    *prometheus.CounterVec
	Rejected   prometheus.Counter
	Chars      prometheus.Counter
	FirstChunk prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forkchat",
			Name:      "streams_total",
			Help:      "Streams by outcome.",
		}, []string{"outcome"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forkchat",
			Name:      "streams_rejected_total",
			Help:      "Start calls ignored because a stream was already active.",
		}),
		Chars: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forkchat",
			Name:      "stream_chars_total",
			Help:      "Characters received from the transport.",
		}),
		FirstChunk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forkchat",
			Name:      "stream_first_chunk_seconds",
			Help:      "Time from request to first chunk.",
			Buckets:   []float64{0.05, 0.1, 0.15, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Streams, m.Rejected, m.Chars, m.FirstChunk)
	}
	return m
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	m.Streams.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *Metrics) chunk(chars int, first bool, sinceStart float64) {
	if m == nil {
		return
	}
	m.Chars.Add(float64(chars))
	if first {
		m.FirstChunk.Observe(sinceStart)
	}
}
