package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/streamledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/streamledger/internal/platform"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultCommitted    = "committed"
	resultServiceError = "service_error"
)

// Metrics owns a private prometheus registry. It implements platform.TransactionObserver.
type Metrics struct {
	registry          *prometheus.Registry
	transactionsTotal *prometheus.CounterVec
	chainHeight       prometheus.Gauge
	blockTransactions prometheus.Histogram
	requestDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamledger_transactions_total",
			Help: "Ledger transactions by operation and result",
		}, []string{"operation", "result"}),
		chainHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamledger_chain_height",
			Help: "Height of the latest sealed block",
		}),
		blockTransactions: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamledger_block_transactions",
			Help:    "Transactions sealed per block",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) TransactionCommitted(receipt platform.Receipt) {
	m.transactionsTotal.WithLabelValues(receipt.Operation, resultCommitted).Inc()
}

func (m *Metrics) TransactionRejected(operation string, _ platform.Identity, err error) {
	result := resultServiceError
	if ledgerErr, ok := platform.AsLedgerError(err); ok {
		result = ledgerErr.Name()
	}
	m.transactionsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveBlock records a freshly sealed block.
func (m *Metrics) ObserveBlock(block ledger.Block) {
	m.chainHeight.Set(float64(block.Height))
	m.blockTransactions.Observe(float64(len(block.TxHashes)))
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(started).Seconds())
	}
}
