// Package metrics contains the prometheus metrics exposed by the trust layer.
//
// A nil *Metrics is valid and records nothing, so components can be used
// without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scionproto/scion/pkg/private/prom"
)

// Entity types used as the "type" label.
const (
	TypeTrustAnchor  = "trust_anchor"
	TypeIntermediate = "intermediate"
	TypeCRL          = "crl"
)

// Verdict sources used as the "source" label.
const (
	SourceEngine       = "engine"
	SourceGroupState   = "group_state"
	SourceInUse        = "credential_in_use"
	SourceConversation = "conversation"
)

// Metrics bundles the trust layer metrics.
type Metrics struct {
	registrations *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	rebuilds      *prometheus.CounterVec
	entities      *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. If reg is nil the
// metrics are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registrations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2ei_registrations_total",
				Help: "Total number of PKI entity registrations.",
			},
			[]string{"type", prom.LabelResult},
		),
		verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2ei_verdicts_total",
				Help: "Total number of computed trust verdicts.",
			},
			[]string{"source", "verdict"},
		),
		rebuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2ei_environment_rebuilds_total",
				Help: "Total number of PKI environment rebuilds from the store.",
			},
			[]string{prom.LabelResult},
		),
		entities: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "e2ei_environment_entities",
				Help: "Number of entities in the active PKI environment.",
			},
			[]string{"type"},
		),
	}
}

// Registration counts a registration attempt of the given entity type.
func (m *Metrics) Registration(entityType, result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(entityType, result).Inc()
}

// Verdict counts a computed verdict.
func (m *Metrics) Verdict(source, verdict string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(source, verdict).Inc()
}

// Rebuild counts an environment rebuild.
func (m *Metrics) Rebuild(result string) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(result).Inc()
}

// Entities sets the entity gauges to the content of the active environment.
func (m *Metrics) Entities(anchors, intermediates, crls int) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(TypeTrustAnchor).Set(float64(anchors))
	m.entities.WithLabelValues(TypeIntermediate).Set(float64(intermediates))
	m.entities.WithLabelValues(TypeCRL).Set(float64(crls))
}
