package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "possettle_"

var (
	registerOnce sync.Once

	settlementTotal   *prometheus.CounterVec
	settlementLatency *prometheus.HistogramVec
	compensations     *prometheus.CounterVec
	batchSize         prometheus.Histogram
	stockDebits       *prometheus.CounterVec
	recoveredClaims   prometheus.Counter
	eventPublish      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

// Init registers the collectors with the default registry. Observe helpers are
// no-ops until it has run.
func Init() {
	registerOnce.Do(func() {
		settlementTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_total",
				Help: "Settlement operations by operation and result kind",
			},
			[]string{"operation", "result"},
		)
		settlementLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_latency_seconds",
				Help:    "Settlement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		)
		compensations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_compensations_total",
				Help: "Compensating actions by step and result",
			},
			[]string{"step", "result"},
		)
		batchSize = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "finalize_batch_size",
				Help:    "Transaction ids per batch finalize call",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		)
		stockDebits = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stock_debit_units_total",
				Help: "Units debited from inventory by tracking mode",
			},
			[]string{"mode"},
		)
		recoveredClaims = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "recovered_claims_total",
				Help: "Expired settlement claims rolled back by recovery",
			},
		)
		eventPublish = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_publish_total",
				Help: "Settlement events published by type and result",
			},
			[]string{"type", "result"},
		)
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "method", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		)

		prometheus.MustRegister(
			settlementTotal,
			settlementLatency,
			compensations,
			batchSize,
			stockDebits,
			recoveredClaims,
			eventPublish,
			httpRequests,
			httpLatency,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveSettlement(operation, result string, duration time.Duration) {
	if settlementTotal == nil || settlementLatency == nil {
		return
	}
	settlementTotal.WithLabelValues(operation, result).Inc()
	settlementLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func IncCompensation(step, result string) {
	if compensations == nil {
		return
	}
	compensations.WithLabelValues(step, result).Inc()
}

func ObserveBatchSize(n int) {
	if batchSize == nil {
		return
	}
	batchSize.Observe(float64(n))
}

func AddStockDebit(lotManaged bool, units int) {
	if stockDebits == nil {
		return
	}
	mode := "on_hand"
	if lotManaged {
		mode = "fifo"
	}
	stockDebits.WithLabelValues(mode).Add(float64(units))
}

func IncRecoveredClaim() {
	if recoveredClaims == nil {
		return
	}
	recoveredClaims.Inc()
}

func IncEventPublish(eventType, result string) {
	if eventPublish == nil {
		return
	}
	eventPublish.WithLabelValues(eventType, result).Inc()
}

func ObserveHTTP(route, method string, status int, duration time.Duration) {
	if httpRequests == nil || httpLatency == nil {
		return
	}
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(route, method).Observe(duration.Seconds())
}
