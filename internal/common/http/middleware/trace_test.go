package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"klausjudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddleware(), RequestLogger())
	var seen string
	router.GET("/x", func(c *gin.Context) {
		seen, _ = c.Request.Context().Value(contextkey.TraceID).(string)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(traceIDHeader, "abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if seen != "abc" || w.Header().Get(traceIDHeader) != "abc" {
		t.Fatalf("expected propagated trace id, got ctx=%q header=%q", seen, w.Header().Get(traceIDHeader))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(traceIDHeader) == "" || seen == "" {
		t.Fatalf("expected generated trace id")
	}
}
