package exchange

import "github.com/prometheus/client_golang/prometheus"

var (
	metricSessionAuth    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jamso_session_auth_total", Help: "Broker session authentication attempts by result"}, []string{"result"})
	metricActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jamso_active_sessions", Help: "Broker sessions currently holding a limiter slot"})
	metricReauth         = prometheus.NewCounter(prometheus.CounterOpts{Name: "jamso_session_reauth_total", Help: "Requests replayed after an expired session"})
)

func init() {
	prometheus.MustRegister(metricSessionAuth, metricActiveSessions, metricReauth)
}
