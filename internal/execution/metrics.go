package execution

import "github.com/prometheus/client_golang/prometheus"

var (
	metricSignalsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jamso_signals_received_total",
		Help: "Total number of webhook signals received",
	})
	metricSignalsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jamso_signals_rejected_total",
		Help: "Signals that did not result in an order, by result code",
	}, []string{"reason"})
	metricOrdersAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jamso_orders_attempted_total",
		Help: "Order submissions sent to the broker, including retries",
	})
	metricOrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jamso_orders_placed_total",
		Help: "Orders accepted by the broker",
	})
	metricOrdersFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jamso_orders_failed_total",
		Help: "Orders that failed after recovery attempts",
	})
	metricOrderCorrections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jamso_order_corrections_total",
		Help: "Stop-loss/take-profit values corrected from broker validation errors",
	}, []string{"field"})
	metricPipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jamso_pipeline_duration_seconds",
		Help:    "Duration of a full signal processing run",
		Buckets: prometheus.DefBuckets,
	})
	metricKillSwitch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jamso_kill_switch_active",
		Help: "1 when the kill switch is active",
	})
)

func init() {
	prometheus.MustRegister(
		metricSignalsReceived,
		metricSignalsRejected,
		metricOrdersAttempted,
		metricOrdersPlaced,
		metricOrdersFailed,
		metricOrderCorrections,
		metricPipelineDuration,
		metricKillSwitch,
	)
}
