package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# MarketPlacer collector

Background service that collects seller data from Wildberries and Ozon.
The HTTP surface is operational and read-only.

## Auth

/api/*, /swagger and /docs require "Authorization: Bearer <server.auth_token>"
when a token is configured. Health and metrics endpoints are public.

## Routes

- GET /healthz
- GET /readyz
- GET /metrics
- GET /swagger/index.html
- GET /api/v1/queue
- GET /api/v1/sync-states
- GET /api/v1/collection-logs
`)
	})
}
