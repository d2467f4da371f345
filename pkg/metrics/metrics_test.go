package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amoylab/chatline/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ChatCollectors(t *testing.T) {
	m := New(config.MetricsConfig{Namespace: "chatline_test"})

	m.ConnectResult("ok")
	m.ConnectResult("ok")
	m.SessionUp()
	m.SubscriptionUp(ScopeSession)
	m.SubscriptionUp(ScopeConversation)
	m.SubscriptionDown(ScopeConversation)
	m.EventReceived(ScopeSession, "message.new")
	m.MessageSent("ok")
	m.OperationDone("connect", time.Now(), errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connects.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subs.WithLabelValues(ScopeSession)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subs.WithLabelValues(ScopeConversation)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues(ScopeSession, "message.new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("ok")))

	m.SessionDown()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectResult("ok")
	m.SessionUp()
	m.SessionDown()
	m.SubscriptionUp(ScopeSession)
	m.SubscriptionDown(ScopeSession)
	m.EventReceived(ScopeSession, "message.new")
	m.MessageSent("error")
	m.OperationDone("send", time.Now(), nil)
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(config.MetricsConfig{Namespace: "chatline_http"})

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpReqCnt.WithLabelValues("GET", "/ping", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatline_http_http_requests_total")
}
