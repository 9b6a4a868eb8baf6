package provision

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeCreated = "created"
	outcomeAdopted = "adopted"
	outcomeFailed  = "failed"

	kindProject = "project"
	kindOIDCApp = "oidc_app"
	kindRole    = "role"
)

// Metrics counts provisioning outcomes per entity kind.
type Metrics struct {
	Provisioned *prometheus.CounterVec
}

// NewMetrics creates the provisioning metrics and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Provisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zitadelhost",
				Subsystem: "provisioning",
				Name:      "entities_total",
				Help:      "Total number of provisioned entities by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Provisioned)
	}
	return m
}

func (m *Metrics) observe(kind, outcome string) {
	if m == nil {
		return
	}
	m.Provisioned.WithLabelValues(kind, outcome).Inc()
}
