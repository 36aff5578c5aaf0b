package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_http_requests_total",
			Help: "Total number of HTTP requests processed by the conversation console.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	transportStatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_transport_state_transitions_total",
			Help: "Total number of transport state transitions.",
		},
		[]string{"state"},
	)
	activeConversations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conversation_active_sessions",
			Help: "Number of open conversations.",
		},
		[]string{"mode"},
	)
	inboundActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_inbound_actions_total",
			Help: "Total number of protocol messages received.",
		},
		[]string{"action"},
	)
	outboundActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_outbound_actions_total",
			Help: "Total number of protocol messages sent, by transport mode.",
		},
		[]string{"action", "mode"},
	)
	collaboratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_collaborator_requests_total",
			Help: "Total number of HTTP calls made to the back office.",
		},
		[]string{"endpoint", "status"},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_uploads_total",
			Help: "Total number of attachment uploads by result.",
		},
		[]string{"result"},
	)
	readBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_read_batches_total",
			Help: "Total number of mark_read batches flushed.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		transportStatesTotal,
		activeConversations,
		inboundActionsTotal,
		outboundActionsTotal,
		collaboratorRequestsTotal,
		uploadsTotal,
		readBatchesTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncTransportState(state string) {
	transportStatesTotal.WithLabelValues(state).Inc()
}

func IncActiveConversation(mode string) {
	activeConversations.WithLabelValues(mode).Inc()
}

func DecActiveConversation(mode string) {
	activeConversations.WithLabelValues(mode).Dec()
}

func IncInbound(action string) {
	inboundActionsTotal.WithLabelValues(action).Inc()
}

func IncOutbound(action, mode string) {
	outboundActionsTotal.WithLabelValues(action, mode).Inc()
}

func IncCollaboratorRequest(endpoint string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	collaboratorRequestsTotal.WithLabelValues(endpoint, label).Inc()
}

func IncUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}

func IncReadBatch() {
	readBatchesTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
