package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the read-only metrics surface for one pipeline loop.
func NewRouter(exposer Exposer, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(exposer.PrometheusText()))
	})

	r.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, exposer.SnapshotJSON())
	})

	r.GET("/healthz", func(c *gin.Context) {
		health := exposer.Health()
		status := http.StatusOK
		if health != HealthHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": health})
	})

	return r
}

// Serve starts the metrics listener on the given port. A port of 0 disables
// the listener. The returned server can be shut down by the caller.
func Serve(port int, exposer Exposer, logger *slog.Logger) *http.Server {
	if port == 0 {
		return nil
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: NewRouter(exposer, logger),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed",
				slog.Any("error", err),
			)
		}
	}()

	logger.Info("Metrics server listening",
		slog.Int("port", port),
	)

	return srv
}
