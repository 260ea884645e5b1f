package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/service"
)

type StrategyHandler struct {
	Strategies *service.StrategyService
}

func (h *StrategyHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/strategies")
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
}

// @Summary Create strategy
// @Tags strategies
// @Accept json
// @Param body body service.StrategyInput true "strategy"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/strategies [post]
func (h *StrategyHandler) create(c *gin.Context) {
	if h.Strategies == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req service.StrategyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Strategies.Create(c.Request.Context(), req)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewStrategy(*item), nil)
}

// @Summary Get strategy
// @Tags strategies
// @Param id path int true "strategy id"
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies/{id} [get]
func (h *StrategyHandler) get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok || h.Strategies == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Strategies.Get(c.Request.Context(), id)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewStrategy(*item), nil)
}

// @Summary Replace strategy
// @Tags strategies
// @Accept json
// @Param id path int true "strategy id"
// @Param body body service.StrategyInput true "strategy"
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies/{id} [put]
func (h *StrategyHandler) update(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok || h.Strategies == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req service.StrategyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Strategies.Update(c.Request.Context(), id, req)
	if err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	Ok(c, viewStrategy(*item), nil)
}
