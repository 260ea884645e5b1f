package handler

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tradeloop/internal/repository"
	"tradeloop/internal/service"
)

type SessionHandler struct {
	Sessions *service.SessionService
	Ticker   service.Ticker
	Repo     repository.Repository
	// ExposeStack adds a stack trace to tick failure payloads.
	ExposeStack bool
	Logger      *zap.Logger
}

func (h *SessionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/sessions")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/start", h.start)
	g.POST("/:id/stop", h.stop)
	g.POST("/:id/tick", h.tick)
	g.GET("/:id/decisions", h.decisions)
}

// @Summary Create session
// @Tags sessions
// @Accept json
// @Param body body service.CreateSessionInput true "session"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/sessions [post]
func (h *SessionHandler) create(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req service.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Sessions.Create(c.Request.Context(), req)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewSession(*item), nil)
}

// @Summary List sessions
// @Tags sessions
// @Param user_id query string false "owner"
// @Param status query string false "running|stopped"
// @Param mode query string false "simulated|live|competition"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/sessions [get]
func (h *SessionHandler) list(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Sessions.List(c.Request.Context(), repository.ListSessionsParams{
		Limit:  limit,
		Offset: offset,
		UserID: strQueryPtr(c, "user_id"),
		Status: strQueryPtr(c, "status"),
		Mode:   strQueryPtr(c, "mode"),
		Asc:    boolPtr(true),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]sessionView, 0, len(items))
	for _, s := range items {
		out = append(out, viewSession(s))
	}
	Ok(c, out, map[string]any{"limit": limit, "offset": offset})
}

// @Summary Get session
// @Tags sessions
// @Param id path int true "session id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok || h.Sessions == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Sessions.Get(c.Request.Context(), id)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewSession(*item), nil)
}

// @Summary Start session
// @Tags sessions
// @Param id path int true "session id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sessions/{id}/start [post]
func (h *SessionHandler) start(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok || h.Sessions == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Sessions.Start(c.Request.Context(), id)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewSession(*item), nil)
}

// @Summary Stop session
// @Tags sessions
// @Param id path int true "session id"
// @Success 200 {object} apiResponse
// @Router /api/v1/sessions/{id}/stop [post]
func (h *SessionHandler) stop(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok || h.Sessions == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Sessions.Stop(c.Request.Context(), id)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewSession(*item), nil)
}

type tickFailure struct {
	Error  string `json:"error"`
	TickID string `json:"tick_id,omitempty"`
	Stack  string `json:"stack,omitempty"`
}

// @Summary Run one tick now
// @Tags sessions
// @Param id path int true "session id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Failure 500 {object} apiResponse
// @Router /api/v1/sessions/{id}/tick [post]
func (h *SessionHandler) tick(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	if h.Ticker == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	report, err := h.Ticker.Tick(c.Request.Context(), id)
	if err != nil {
		failure := tickFailure{Error: err.Error()}
		if report != nil {
			failure.TickID = report.TickID
		}
		if h.ExposeStack {
			failure.Stack = string(debug.Stack())
		}
		if h.Logger != nil {
			h.Logger.Warn("manual tick failed", zap.Uint64("session_id", id), zap.Error(err))
		}
		ErrorData(c, statusOf(err), "tick failed", failure)
		return
	}
	Ok(c, report, nil)
}

// @Summary List decisions of a session
// @Tags sessions
// @Param id path int true "session id"
// @Param market query string false "market"
// @Param executed query bool false "executed only"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/sessions/{id}/decisions [get]
func (h *SessionHandler) decisions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok || h.Repo == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var market *string
	if m := strQueryPtr(c, "market"); m != nil {
		upper := strings.ToUpper(*m)
		market = &upper
	}
	items, err := h.Repo.ListDecisions(c.Request.Context(), repository.ListDecisionsParams{
		SessionID: &id,
		Market:    market,
		Executed:  boolQueryPtr(c, "executed"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, viewDecisions(items), map[string]any{"limit": limit, "offset": offset})
}
