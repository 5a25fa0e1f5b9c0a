package dashboard

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := NewHandler(deps)

	r.GET("/", h.Index)
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		// GET /api/dlq - non-destructive filtered scan
		api.GET("/dlq", h.ScanDLQ)

		// POST /api/replay - move matching entries back to the jobs queue
		api.POST("/replay", h.ReplayDLQ)

		// GET /api/runs - extraction run history, when enabled
		if deps.Runs != nil {
			api.GET("/runs", h.ListRuns)
		}
	}

	return r
}
