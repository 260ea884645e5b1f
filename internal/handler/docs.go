package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# tradeloop

Tick engine for model-driven perpetual futures strategies.

## Auth

When server.auth_token is set, /api/*, /swagger and /docs require
"Authorization: Bearer <token>". Health and metrics stay public.

## Routes

- GET /healthz
- GET /readyz
- GET /metrics
- GET /swagger/index.html
- POST /api/v1/strategies
- GET /api/v1/strategies/:id
- PUT /api/v1/strategies/:id
- POST /api/v1/sessions
- GET /api/v1/sessions
- GET /api/v1/sessions/:id
- POST /api/v1/sessions/:id/start
- POST /api/v1/sessions/:id/stop
- POST /api/v1/sessions/:id/tick
- GET /api/v1/sessions/:id/decisions
- GET /api/v1/accounts/:id
- GET /api/v1/accounts/:id/positions
- GET /api/v1/accounts/:id/trades (format=csv for export)
- GET /api/v1/accounts/:id/equity
- GET /api/v1/accounts/:id/reconcile
- GET /api/v1/settings/switches
- GET /api/v1/settings/:key
- PUT /api/v1/settings/:key
`)
	})
}
