package metrics

import (
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/dues-engine/engine"
)

const (
	metricPrefix = "dues_"

	resultSuccess   = "success"
	resultError     = "error"
	resultInvalid   = "invalid"
	resultDuplicate = "duplicate"
	resultIntegrity = "integrity"
	resultMisconfig = "misconfigured"
	resultNotFound  = "not_found"
)

var (
	registerOnce sync.Once

	paymentTotal   *prometheus.CounterVec
	paymentLatency *prometheus.HistogramVec
	previewTotal   *prometheus.CounterVec

	allocatedMinorUnits *prometheus.CounterVec
	integrityFailures   *prometheus.CounterVec

	penaltyRefreshTotal   *prometheus.CounterVec
	penaltyRefreshLatency *prometheus.HistogramVec
	penaltyBillsUpdated   *prometheus.CounterVec
)

// Init registers engine metrics and DB-backed gauges. Safe to call more than once.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		paymentTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payments_total",
				Help: "Total recorded payments by module and result",
			},
			[]string{"module", "result"},
		)
		paymentLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "payment_latency_seconds",
				Help:    "Payment recording latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module", "result"},
		)
		previewTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_previews_total",
				Help: "Total payment previews by module and result",
			},
			[]string{"module", "result"},
		)

		allocatedMinorUnits = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocated_minor_units_total",
				Help: "Sum of positive allocation amounts in minor units by module and kind",
			},
			[]string{"module", "kind"},
		)
		integrityFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocation_integrity_failures_total",
				Help: "Payments rejected because allocations did not reconcile",
			},
			[]string{"module"},
		)

		penaltyRefreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "penalty_refresh_total",
				Help: "Total batch penalty refresh runs by result",
			},
			[]string{"module", "result"},
		)
		penaltyRefreshLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "penalty_refresh_latency_seconds",
				Help:    "Batch penalty refresh latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module", "result"},
		)
		penaltyBillsUpdated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "penalty_bills_updated_total",
				Help: "Bills whose penalty amount changed during refresh",
			},
			[]string{"module"},
		)

		prometheus.MustRegister(
			paymentTotal,
			paymentLatency,
			previewTotal,
			allocatedMinorUnits,
			integrityFailures,
			penaltyRefreshTotal,
			penaltyRefreshLatency,
			penaltyBillsUpdated,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ResultFor maps an operation error to a low-cardinality result label.
func ResultFor(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, engine.ErrDuplicatePayment):
		return resultDuplicate
	case errors.Is(err, engine.ErrIntegrity):
		return resultIntegrity
	case errors.Is(err, engine.ErrConfiguration), errors.Is(err, engine.ErrConfigNotFound):
		return resultMisconfig
	case engine.IsNotFound(err):
		return resultNotFound
	case engine.IsClientError(err):
		return resultInvalid
	default:
		return resultError
	}
}

// ObservePayment records payment latency and result.
func ObservePayment(module engine.ModuleKind, err error, duration time.Duration) {
	m, result := moduleLabel(module), ResultFor(err)
	if paymentTotal != nil {
		paymentTotal.WithLabelValues(m, result).Inc()
	}
	if paymentLatency != nil {
		paymentLatency.WithLabelValues(m, result).Observe(duration.Seconds())
	}
	if errors.Is(err, engine.ErrIntegrity) && integrityFailures != nil {
		integrityFailures.WithLabelValues(m).Inc()
	}
}

// ObservePreview records a preview result.
func ObservePreview(module engine.ModuleKind, err error) {
	if previewTotal != nil {
		previewTotal.WithLabelValues(moduleLabel(module), ResultFor(err)).Inc()
	}
}

// AddAllocations adds the positive allocation amounts of a recorded payment.
func AddAllocations(allocs []engine.Allocation) {
	if allocatedMinorUnits == nil {
		return
	}
	for _, a := range allocs {
		if a.Amount > 0 {
			allocatedMinorUnits.WithLabelValues(moduleLabel(a.Module), string(a.Kind)).Add(float64(a.Amount))
		}
	}
}

// ObservePenaltyRefresh records a batch refresh run.
func ObservePenaltyRefresh(module engine.ModuleKind, billsUpdated int, err error, duration time.Duration) {
	m, result := moduleLabel(module), ResultFor(err)
	if penaltyRefreshTotal != nil {
		penaltyRefreshTotal.WithLabelValues(m, result).Inc()
	}
	if penaltyRefreshLatency != nil {
		penaltyRefreshLatency.WithLabelValues(m, result).Observe(duration.Seconds())
	}
	if billsUpdated > 0 && penaltyBillsUpdated != nil {
		penaltyBillsUpdated.WithLabelValues(m).Add(float64(billsUpdated))
	}
}

func moduleLabel(module engine.ModuleKind) string {
	if module == "" {
		return "unknown"
	}
	return string(module)
}

// Exported constants for callers.
const (
	ResultSuccess   = resultSuccess
	ResultError     = resultError
	ResultInvalid   = resultInvalid
	ResultDuplicate = resultDuplicate
	ResultIntegrity = resultIntegrity
)
