// Package metrics exposes the daemon's Prometheus instrumentation: PDU
// pool occupancy, per-peer ARQ window depth, and SAP bind table
// occupancy.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the daemon updates. A nil *Metrics is
// a valid no-op collector, so callers on a hot path don't need a nil
// check before every update site.
type Metrics struct {
	PDUPoolInUse     prometheus.Gauge
	PDUPoolFree      prometheus.Gauge
	PDUPoolAllocated *prometheus.CounterVec

	ARQWindowDepth *prometheus.GaugeVec
	ARQRetransmits *prometheus.CounterVec

	SAPBindsActive prometheus.Gauge
	SAPBindTotal   *prometheus.CounterVec

	PDUsDecoded    *prometheus.CounterVec
	FramingErrors  *prometheus.CounterVec
	ValidationDrop *prometheus.CounterVec
}

// New registers every metric against reg (typically
// prometheus.DefaultRegisterer) and returns the populated collector.
// Panics if registration fails, which only happens on a duplicate
// registration during initialization.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PDUPoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stanag5066d_pdu_pool_in_use",
			Help: "PDUs currently checked out of the free list.",
		}),
		PDUPoolFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stanag5066d_pdu_pool_free",
			Help: "PDUs currently sitting on the free list.",
		}),
		PDUPoolAllocated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stanag5066d_pdu_pool_allocated_total",
				Help: "PDU allocations by tier (worker_cache, global_pool, overflow).",
			},
			[]string{"tier"},
		),
		ARQWindowDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stanag5066d_arq_window_depth",
				Help: "Unacknowledged segments currently outstanding per peer.",
			},
			[]string{"peer"},
		),
		ARQRetransmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stanag5066d_arq_retransmits_total",
				Help: "ARQ retransmissions fired by the retransmit scheduler, by peer.",
			},
			[]string{"peer"},
		),
		SAPBindsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stanag5066d_sap_binds_active",
			Help: "Currently bound SAP indices.",
		}),
		SAPBindTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stanag5066d_sap_bind_total",
				Help: "SAP bind attempts by outcome (ok, rejected).",
			},
			[]string{"outcome"},
		),
		PDUsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stanag5066d_pdus_decoded_total",
				Help: "PDUs successfully decoded, by protocol.",
			},
			[]string{"proto"},
		),
		FramingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stanag5066d_framing_errors_total",
				Help: "Framing-tier decode errors, by protocol.",
			},
			[]string{"proto"},
		),
		ValidationDrop: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stanag5066d_validation_drops_total",
				Help: "Validation-tier drops, by protocol.",
			},
			[]string{"proto"},
		),
	}

	reg.MustRegister(
		m.PDUPoolInUse,
		m.PDUPoolFree,
		m.PDUPoolAllocated,
		m.ARQWindowDepth,
		m.ARQRetransmits,
		m.SAPBindsActive,
		m.SAPBindTotal,
		m.PDUsDecoded,
		m.FramingErrors,
		m.ValidationDrop,
	)

	return m
}

// SetPoolOccupancy records the free list's current split between
// checked-out and free PDUs.
func (m *Metrics) SetPoolOccupancy(inUse, free int) {
	if m == nil {
		return
	}
	m.PDUPoolInUse.Set(float64(inUse))
	m.PDUPoolFree.Set(float64(free))
}

// RecordPoolAllocation increments the allocation counter for the tier
// ("worker_cache", "global_pool", or "overflow") a Get() call was served
// from.
func (m *Metrics) RecordPoolAllocation(tier string) {
	if m == nil {
		return
	}
	m.PDUPoolAllocated.WithLabelValues(tier).Inc()
}

// SetARQWindowDepth records the number of unacknowledged segments
// currently outstanding for peer.
func (m *Metrics) SetARQWindowDepth(peer string, depth int) {
	if m == nil {
		return
	}
	m.ARQWindowDepth.WithLabelValues(peer).Set(float64(depth))
}

// RecordRetransmit increments the retransmit counter for peer.
func (m *Metrics) RecordRetransmit(peer string) {
	if m == nil {
		return
	}
	m.ARQRetransmits.WithLabelValues(peer).Inc()
}

// SetSAPBindsActive records the number of currently-bound SAP indices.
func (m *Metrics) SetSAPBindsActive(n int) {
	if m == nil {
		return
	}
	m.SAPBindsActive.Set(float64(n))
}

// RecordSAPBindAttempt increments the bind counter for outcome ("ok" or
// "rejected").
func (m *Metrics) RecordSAPBindAttempt(outcome string) {
	if m == nil {
		return
	}
	m.SAPBindTotal.WithLabelValues(outcome).Inc()
}

// RecordDecoded increments the successful-decode counter for proto.
func (m *Metrics) RecordDecoded(proto string) {
	if m == nil {
		return
	}
	m.PDUsDecoded.WithLabelValues(proto).Inc()
}

// RecordFramingError increments the framing-error counter for proto.
func (m *Metrics) RecordFramingError(proto string) {
	if m == nil {
		return
	}
	m.FramingErrors.WithLabelValues(proto).Inc()
}

// RecordValidationDrop increments the validation-drop counter for proto.
func (m *Metrics) RecordValidationDrop(proto string) {
	if m == nil {
		return
	}
	m.ValidationDrop.WithLabelValues(proto).Inc()
}
