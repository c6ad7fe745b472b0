package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// NewRouter registers the routes of h. metricsHandler may be nil when
// metrics are pushed instead of scraped.
func NewRouter(h *Handler, metricsHandler http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	processes := router.Group("/processes")
	processes.POST("", h.CreateProcess)
	processes.GET("", h.ListProcesses)
	processes.GET("/:id", h.GetProcessStatus)
	processes.POST("/:id/pause", h.PauseProcess)
	processes.POST("/:id/resume", h.ResumeProcess)
	processes.POST("/:id/cancel", h.CancelProcess)
	processes.POST("/:id/retry-failed", h.RetryFailedBatches)
	processes.POST("/:id/restart", h.RestartProcess)
	processes.POST("/:id/verifications", h.StartVerification)
	processes.GET("/:id/quick-verify", h.QuickVerify)
	processes.GET("/:id/archives", h.ListArchives)

	verifications := router.Group("/verifications")
	verifications.GET("/stale", h.ListStaleVerifications)
	verifications.GET("/:runID", h.GetVerificationStatus)
	verifications.POST("/:runID/recover", h.RecoverVerification)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		log := logger.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", status,
			"duration", time.Since(start),
		)
		if status >= http.StatusInternalServerError {
			log.Warnf("HTTP request")
			return
		}
		log.Debugf("HTTP request")
	}
}
