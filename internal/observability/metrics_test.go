package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lilith645/Maat-Network/internal/protocol"
	"github.com/lilith645/Maat-Network/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("maat-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectionOpened("tcp")
	RecordBytes("tcp", "in", 48)
	RecordBytes("tcp", "out", 0)
	RecordDecodeError("tcp")
	RecordConnectionClosed("tcp")
}

func TestRelayMetricsCountsSessionsAndDeliveries(t *testing.T) {
	testlog.Start(t)
	var m RelayMetrics
	beforeActive := testutil.ToFloat64(sessionsActive)
	beforeDeliveries := testutil.ToFloat64(deliveries.WithLabelValues("data"))

	m.SessionOpened("room1")
	m.MessageRelayed(protocol.KindData, 3)
	if got := testutil.ToFloat64(sessionsActive) - beforeActive; got != 1 {
		t.Fatalf("sessions_active delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(deliveries.WithLabelValues("data")) - beforeDeliveries; got != 3 {
		t.Fatalf("deliveries delta = %v, want 3", got)
	}
	m.SessionClosed("room1")
	if got := testutil.ToFloat64(sessionsActive) - beforeActive; got != 0 {
		t.Fatalf("sessions_active delta after close = %v", got)
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(InitLogger("test")), RequestMetricsMiddleware("maat-test"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("maat-test", "GET", "/health", "200"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("maat-test", "GET", "/health", "200"))
	if after-before != 1 {
		t.Fatalf("request counter delta = %v", after-before)
	}
}

func TestMiddlewareCollapsesUnmatchedRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestMetricsMiddleware("maat-test"))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("maat-test", "GET", "unmatched", "404"))
	for _, p := range []string{"/nope", "/also/nope"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("maat-test", "GET", "unmatched", "404"))
	if after-before != 2 {
		t.Fatalf("unmatched counter delta = %v", after-before)
	}
}
