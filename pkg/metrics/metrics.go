package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/chatline/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Subscription scopes
const (
	ScopeSession      = "session"
	ScopeConversation = "conversation"
)

// Metrics holds the prometheus collectors of a chatline process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	namespace  string
	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec
	connects   *prometheus.CounterVec
	sessions   prometheus.Gauge
	subs       *prometheus.GaugeVec
	events     *prometheus.CounterVec
	sends      *prometheus.CounterVec
	opDur      *prometheus.HistogramVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	connects := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "session_connect_total"}, []string{"result"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "session_live_connections"})
	subs := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "subscriptions_live"}, []string{"scope"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_received_total"}, []string{"scope", "type"})
	sends := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "messages_sent_total"}, []string{"status"})
	opDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "operation_duration_seconds", Buckets: buckets}, []string{"operation", "status"})
	r.MustRegister(connects, sessions, subs, events, sends, opDur)

	return &Metrics{
		registry:   r,
		namespace:  ns,
		httpReqCnt: httpReqCnt,
		httpDur:    httpDur,
		httpInfl:   httpInfl,
		connects:   connects,
		sessions:   sessions,
		subs:       subs,
		events:     events,
		sends:      sends,
		opDur:      opDur,
	}
}

// ConnectResult counts a finished connect attempt by result label
func (m *Metrics) ConnectResult(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

// SessionUp marks a transport connection as live
func (m *Metrics) SessionUp() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionDown marks a transport connection as released
func (m *Metrics) SessionDown() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// SubscriptionUp marks a subscription handle in scope as live
func (m *Metrics) SubscriptionUp(scope string) {
	if m == nil {
		return
	}
	m.subs.WithLabelValues(scope).Inc()
}

// SubscriptionDown marks a subscription handle in scope as released
func (m *Metrics) SubscriptionDown(scope string) {
	if m == nil {
		return
	}
	m.subs.WithLabelValues(scope).Dec()
}

// EventReceived counts an event delivered to a subscription in scope
func (m *Metrics) EventReceived(scope, eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(scope, eventType).Inc()
}

// MessageSent counts a send attempt by status
func (m *Metrics) MessageSent(status string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(status).Inc()
}

// OperationDone observes the duration of a consumer-facing operation
func (m *Metrics) OperationDone(operation string, since time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opDur.WithLabelValues(operation, status).Observe(time.Since(since).Seconds())
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatus(code int) string { return strconv.Itoa(code) }
