package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts payment initiation attempts by outcome.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentReconcileTotal counts confirmation reconciliations by channel and outcome.
	PaymentReconcileTotal *prometheus.CounterVec
	// PaymentBindingViolationTotal counts confirmations that referenced another order's payment.
	PaymentBindingViolationTotal *prometheus.CounterVec
	// ProviderRequestDuration records Konnect API latency in milliseconds.
	ProviderRequestDuration *prometheus.HistogramVec
	// SettlementTotal counts order settlement task outcomes.
	SettlementTotal *prometheus.CounterVec
	// LedgerQueryDuration records Postgres statement latency by SQL verb.
	LedgerQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers payment Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment initiation outcomes.",
		}, []string{"result"})
		PaymentReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of payment confirmation reconciliations by channel and outcome.",
		}, []string{"channel", "result"})
		PaymentBindingViolationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_binding_violation_total",
			Help:      "Confirmations whose provider payment belongs to a different order.",
		}, []string{"channel"})
		ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_ms",
			Help:      "Latency of payment provider API calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"})
		SettlementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_settlement_total",
			Help:      "Count of order settlement task outcomes.",
		}, []string{"result"})
		LedgerQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_query_duration_ms",
			Help:      "Latency of ledger SQL statements in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"operation", "result"})

		mustRegisterCollector(reg, PaymentIntentTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentIntentTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentReconcileTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentBindingViolationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentBindingViolationTotal = v
			}
		})
		mustRegisterCollector(reg, ProviderRequestDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderRequestDuration = v
			}
		})
		mustRegisterCollector(reg, SettlementTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SettlementTotal = v
			}
		})
		mustRegisterCollector(reg, LedgerQueryDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				LedgerQueryDuration = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
