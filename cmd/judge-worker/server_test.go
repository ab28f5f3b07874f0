package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"klausjudge/internal/common/mq"
	"klausjudge/internal/judge/controller"
	"klausjudge/internal/judge/sandbox/observer"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRouterServesMetricsAndStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	rec, err := observer.NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	rec.ObserveQueueDepth(3)

	router := buildRouter(controller.NewStatusController(nil, nil, nil, nil), reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "klausjudge_queue_depth 3") {
		t.Fatalf("unexpected metrics response %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("unexpected stats response %d", w.Code)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type stubProducer struct{ err error }

func (p stubProducer) Publish(ctx context.Context, topic string, message *mq.Message) error { return nil }
func (p stubProducer) Ping(ctx context.Context) error                                       { return p.err }
func (p stubProducer) Close() error                                                         { return nil }

func TestHealthzPingsEventProducer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	checks := healthChecks(stubPinger{}, stubPinger{}, "", nil)
	if len(checks) != 2 {
		t.Fatalf("expected only postgres and redis without events, got %v", checks)
	}

	checks = healthChecks(stubPinger{}, stubPinger{}, "kafka", stubProducer{err: errors.New("broker down")})
	if _, ok := checks["kafka"]; !ok {
		t.Fatalf("expected kafka check, got %v", checks)
	}
	router := buildRouter(controller.NewStatusController(checks, nil, nil, nil), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "broker down") {
		t.Fatalf("unexpected health response %d: %s", w.Code, w.Body.String())
	}
}
