package metrics

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sig-0/go-qbft/message"
)

// Prometheus exports consensus events as prometheus collectors
type Prometheus struct {
	quorumsTotal       *prometheus.CounterVec
	roundChangesTotal  prometheus.Counter
	roundTimeoutsTotal prometheus.Counter
	equivocationsTotal *prometheus.CounterVec
	invalidMessages    *prometheus.CounterVec
	blocksFinalized    prometheus.Counter
	height             prometheus.Gauge
	round              prometheus.Gauge
	finalizedRound     prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them with reg
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	m := &Prometheus{
		quorumsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quorums_reached_total",
			Help:      "Number of quorums reached by message kind",
		}, []string{"kind"}),

		roundChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_changes_total",
			Help:      "Number of round changes within a height",
		}),

		roundTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_timeouts_total",
			Help:      "Number of expired round timers",
		}),

		equivocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "equivocations_total",
			Help:      "Number of conflicting messages by kind and sender",
		}, []string{"kind", "sender"}),

		invalidMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_messages_total",
			Help:      "Number of dropped invalid messages by kind",
		}, []string{"kind"}),

		blocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_finalized_total",
			Help:      "Number of finalized blocks",
		}),

		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "height",
			Help:      "Current consensus height",
		}),

		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round",
			Help:      "Current consensus round",
		}),

		finalizedRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "finalized_round",
			Help:      "Round in which the latest block was finalized",
		}),
	}

	collectors := []prometheus.Collector{
		m.quorumsTotal,
		m.roundChangesTotal,
		m.roundTimeoutsTotal,
		m.equivocationsTotal,
		m.invalidMessages,
		m.blocksFinalized,
		m.height,
		m.round,
		m.finalizedRound,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Prometheus) QuorumReached(kind message.Kind, _ message.View) {
	m.quorumsTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Prometheus) RoundChange(view message.View) {
	m.roundChangesTotal.Inc()
	m.height.Set(float64(view.Height))
	m.round.Set(float64(view.Round))
}

func (m *Prometheus) RoundTimeout(message.View) {
	m.roundTimeoutsTotal.Inc()
}

func (m *Prometheus) Equivocation(kind message.Kind, sender common.Address) {
	m.equivocationsTotal.WithLabelValues(kind.String(), sender.Hex()).Inc()
}

func (m *Prometheus) InvalidMessage(kind message.Kind) {
	m.invalidMessages.WithLabelValues(kind.String()).Inc()
}

func (m *Prometheus) BlockFinalized(height, round uint64) {
	m.blocksFinalized.Inc()
	m.height.Set(float64(height + 1))
	m.round.Set(0)
	m.finalizedRound.Set(float64(round))
}
