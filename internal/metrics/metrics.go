// Package metrics exposes Prometheus collectors for ledger operations, spend-gate verdicts and
// paid-action outcomes.
package metrics

import (
	"context"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "creditd"

// Collectors groups every metric the service records.
type Collectors struct {
	LedgerOperations *prometheus.CounterVec
	CreditsMoved     *prometheus.CounterVec
	GateVerdicts     *prometheus.CounterVec
	ActionOutcomes   *prometheus.CounterVec
	Compensations    *prometheus.CounterVec
	Inconsistencies  prometheus.Counter
}

// New registers the collectors with registerer. Pass prometheus.DefaultRegisterer in the
// binary and a fresh registry in tests.
func New(registerer prometheus.Registerer) *Collectors {
	factory := promauto.With(registerer)
	return &Collectors{
		LedgerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by operation and status.",
		}, []string{"operation", "status"}),
		CreditsMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Credits moved by committed entries, by entry type.",
		}, []string{"entry_type"}),
		GateVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "verdicts_total",
			Help:      "Spend-gate decisions by verdict.",
		}, []string{"verdict"}),
		ActionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "outcomes_total",
			Help:      "Paid action outcomes by action and outcome.",
		}, []string{"action", "outcome"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "compensations_total",
			Help:      "Refunds issued after a failed paid action, by result.",
		}, []string{"result"}),
		Inconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "inconsistencies_total",
			Help:      "Failed compensations escalated for manual resolution.",
		}),
	}
}

// LogOperation implements ledger.OperationLogger.
func (collectors *Collectors) LogOperation(_ context.Context, entry ledger.OperationLog) {
	if collectors == nil {
		return
	}
	collectors.LedgerOperations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Status == "ok" && entry.EntryType != "" && entry.Amount > 0 {
		collectors.CreditsMoved.WithLabelValues(entry.EntryType.String()).Add(float64(entry.Amount))
	}
}

// ObserveGate counts a spend-gate verdict.
func (collectors *Collectors) ObserveGate(decision ledger.GateDecision) {
	if collectors == nil {
		return
	}
	collectors.GateVerdicts.WithLabelValues(string(decision.Verdict)).Inc()
}

// ObserveOutcome counts a finished paid action.
func (collectors *Collectors) ObserveOutcome(action string, outcome string) {
	if collectors == nil {
		return
	}
	collectors.ActionOutcomes.WithLabelValues(action, outcome).Inc()
}

// ObserveCompensation counts a refund attempt; failed refunds also count as inconsistencies.
func (collectors *Collectors) ObserveCompensation(succeeded bool) {
	if collectors == nil {
		return
	}
	if succeeded {
		collectors.Compensations.WithLabelValues("refunded").Inc()
		return
	}
	collectors.Compensations.WithLabelValues("failed").Inc()
	collectors.Inconsistencies.Inc()
}
