// Package syncstatus publishes a node's long-running synchronization
// progress — header download, txhashset download, and the batched
// range-proof/kernel-signature validation passes that follow it — as
// Prometheus gauges and counters, the way a production node exposes
// anything else an operator dashboards.
package syncstatus

import "github.com/prometheus/client_golang/prometheus"

// Phase names one stage of sync a node can currently be in.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseHeaderSync        Phase = "header_sync"
	PhaseTxHashSetDownload Phase = "txhashset_download"
	PhaseTxHashSetValidate Phase = "txhashset_validate"
	PhaseBodySync          Phase = "body_sync"
)

// Reporter publishes sync progress to Prometheus. It holds no
// internal state beyond the registered collectors: callers are the
// source of truth for what phase they're in.
type Reporter struct {
	phase          *prometheus.GaugeVec
	headerHeight   prometheus.Gauge
	targetHeight   prometheus.Gauge
	validationDone *prometheus.GaugeVec
}

// NewReporter creates and registers a Reporter's collectors against
// registry.
func NewReporter(registry prometheus.Registerer) (*Reporter, error) {
	r := &Reporter{
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mwgrin",
			Subsystem: "sync",
			Name:      "phase",
			Help:      "1 for the currently active sync phase, 0 for all others.",
		}, []string{"phase"}),
		headerHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mwgrin",
			Subsystem: "sync",
			Name:      "header_height",
			Help:      "Height of the highest header currently known to the node.",
		}),
		targetHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mwgrin",
			Subsystem: "sync",
			Name:      "target_height",
			Help:      "Height reported by the node's best-known peer.",
		}),
		validationDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mwgrin",
			Subsystem: "sync",
			Name:      "validation_items_done",
			Help:      "Count of items (range proofs, kernel signatures) validated so far in the current txhashset processing pass.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{r.phase, r.headerHeight, r.targetHeight, r.validationDone} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetPhase marks phase as the only currently active one.
func (r *Reporter) SetPhase(active Phase) {
	for _, p := range []Phase{PhaseIdle, PhaseHeaderSync, PhaseTxHashSetDownload, PhaseTxHashSetValidate, PhaseBodySync} {
		value := 0.0
		if p == active {
			value = 1.0
		}
		r.phase.WithLabelValues(string(p)).Set(value)
	}
}

// SetHeaderHeight records the height of the highest header known.
func (r *Reporter) SetHeaderHeight(height uint64) { r.headerHeight.Set(float64(height)) }

// SetTargetHeight records the best height reported by a peer.
func (r *Reporter) SetTargetHeight(height uint64) { r.targetHeight.Set(float64(height)) }

// ValidationProgress is a txhashset.ProgressFunc that publishes how
// many items have been verified so far in phase; total is not recorded.
func (r *Reporter) ValidationProgress(phase string, done, total int) {
	r.validationDone.WithLabelValues(phase).Set(float64(done))
	_ = total
}
