package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"claimchain/core/events"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "claimchain",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// LedgerMetrics captures domain-level counters for the pool ledger: lifecycle
// transitions, liquidity flow and offer matching.
type LedgerMetrics struct {
	poolsCreated    prometheus.Counter
	liquidityOps    *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	offersFilled    prometheus.Counter
	offersCancelled prometheus.Counter
	claimsPaid      prometheus.Counter
	redemptions     prometheus.Counter
}

// Ledger returns the singleton domain metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			poolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "pools_created_total",
				Help:      "Count of contingent pools created.",
			}),
			liquidityOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "liquidity_operations_total",
				Help:      "Count of liquidity additions and removals.",
			}, []string{"direction"}),
			statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "settlement_transitions_total",
				Help:      "Count of settlement status transitions segmented by resulting status.",
			}, []string{"status"}),
			offersFilled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "offers_filled_total",
				Help:      "Count of signed offer fills.",
			}),
			offersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "offers_cancelled_total",
				Help:      "Count of signed offer cancellations.",
			}),
			claimsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "fee_claims_paid_total",
				Help:      "Count of fee claim payouts.",
			}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimchain",
				Subsystem: "ledger",
				Name:      "position_redemptions_total",
				Help:      "Count of position token redemptions.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.poolsCreated,
			ledgerRegistry.liquidityOps,
			ledgerRegistry.statusChanges,
			ledgerRegistry.offersFilled,
			ledgerRegistry.offersCancelled,
			ledgerRegistry.claimsPaid,
			ledgerRegistry.redemptions,
		)
	})
	return ledgerRegistry
}

// RecordEvent maps an emitted ledger event type onto the domain counters.
// Unknown event types are ignored.
func (m *LedgerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	switch eventType {
	case events.TypePoolIssued:
		m.poolsCreated.Inc()
	case events.TypeLiquidityAdded:
		m.liquidityOps.WithLabelValues("add").Inc()
	case events.TypeLiquidityRemoved:
		m.liquidityOps.WithLabelValues("remove").Inc()
	case events.TypeFinalValueSubmitted:
		m.statusChanges.WithLabelValues("submitted").Inc()
	case events.TypeFinalValueChallenged:
		m.statusChanges.WithLabelValues("challenged").Inc()
	case events.TypeFinalValueConfirmed:
		m.statusChanges.WithLabelValues("confirmed").Inc()
	case events.TypeOfferFilled:
		m.offersFilled.Inc()
	case events.TypeOfferCancelled:
		m.offersCancelled.Inc()
	case events.TypeFeeClaimed:
		m.claimsPaid.Inc()
	case events.TypePositionRedeemed:
		m.redemptions.Inc()
	}
}
