package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"crowdcounter/internal/model"
)

// Flush result label values.
const (
	FlushSuccess = "success"
	FlushFailed  = "failed"
)

const namespace = "crowd"

// Metrics holds the per-source ingest collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	frames        *prometheus.CounterVec
	trackerErrors *prometheus.CounterVec
	crossings     *prometheus.CounterVec
	currentCount  *prometheus.GaugeVec
	flushes       *prometheus.CounterVec
	resets        *prometheus.CounterVec
	sourceState   *prometheus.GaugeVec
	reconnects    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when it is not
// nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames pulled from a source and handed to the tracker.",
		}, []string{"source"}),
		trackerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_errors_total",
			Help:      "Frames whose detections were skipped because tracking failed.",
		}, []string{"source"}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossings_total",
			Help:      "Distinct tracks counted as crossing the boundary.",
		}, []string{"source"}),
		currentCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_count",
			Help:      "Count held in memory for the current window.",
		}, []string{"source"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Attempts to persist a window count.",
		}, []string{"source", "result"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Periodic window resets.",
		}, []string{"source"}),
		sourceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_state",
			Help:      "Source lifecycle state: 0 connecting, 1 streaming, 2 stalled, 3 stopped.",
		}, []string{"source"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Attempts to reopen a source after it failed or stalled.",
		}, []string{"source"}),
	}

	if reg != nil {
		var errs []error
		for _, c := range []prometheus.Collector{
			m.frames, m.trackerErrors, m.crossings, m.currentCount,
			m.flushes, m.resets, m.sourceState, m.reconnects,
		} {
			errs = append(errs, reg.Register(c))
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) FrameProcessed(source string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(source).Inc()
}

func (m *Metrics) TrackerError(source string) {
	if m == nil {
		return
	}
	m.trackerErrors.WithLabelValues(source).Inc()
}

// RecordCount updates the current count gauge and adds any growth to the
// crossings counter.
func (m *Metrics) RecordCount(source string, previous, current int) {
	if m == nil {
		return
	}
	if current > previous {
		m.crossings.WithLabelValues(source).Add(float64(current - previous))
	}
	m.currentCount.WithLabelValues(source).Set(float64(current))
}

// RecordFlush counts one flush attempt, failed when err is not nil.
func (m *Metrics) RecordFlush(source string, err error) {
	if m == nil {
		return
	}
	result := FlushSuccess
	if err != nil {
		result = FlushFailed
	}
	m.flushes.WithLabelValues(source, result).Inc()
}

func (m *Metrics) RecordReset(source string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(source).Inc()
	m.currentCount.WithLabelValues(source).Set(0)
}

func (m *Metrics) SetState(source string, state model.SourceState) {
	if m == nil {
		return
	}
	m.sourceState.WithLabelValues(source).Set(float64(state))
}

func (m *Metrics) Reconnect(source string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(source).Inc()
}
