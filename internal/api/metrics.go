package api

import "github.com/prometheus/client_golang/prometheus"

var (
	metricHTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jamso_http_requests_total",
		Help: "HTTP requests served, by method, route and status",
	}, []string{"method", "path", "status"})
	metricWebhookUnauthorized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jamso_webhook_unauthorized_total",
		Help: "Webhook requests rejected because of a wrong secret",
	})
)

func init() {
	prometheus.MustRegister(metricHTTPRequests, metricWebhookUnauthorized)
}
