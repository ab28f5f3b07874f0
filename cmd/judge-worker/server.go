package main

import (
	"net/http"

	commonmw "klausjudge/internal/common/http/middleware"
	"klausjudge/internal/common/mq"
	"klausjudge/internal/judge/controller"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthChecks names the dependencies /healthz pings. The event producer is
// included only when an events driver is configured.
func healthChecks(database, redis controller.Pinger, driver string, producer mq.Producer) map[string]controller.Pinger {
	checks := map[string]controller.Pinger{"postgres": database, "redis": redis}
	if producer != nil {
		checks[driver] = producer
	}
	return checks
}

func buildRouter(status *controller.StatusController, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", status.Health)
	router.GET("/stats", status.Stats)
	router.GET("/progress/:id", status.GetProgress)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func buildHTTPServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
}
