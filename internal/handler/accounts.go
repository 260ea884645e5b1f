package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradeloop/internal/accounting"
	"tradeloop/internal/engine"
	"tradeloop/internal/models"
	"tradeloop/internal/repository"
	"tradeloop/internal/service"
)

type AccountHandler struct {
	Repo         repository.Repository
	ReconcileTol float64
}

func (h *AccountHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/accounts")
	g.GET("/:id", h.get)
	g.GET("/:id/positions", h.positions)
	g.GET("/:id/trades", h.trades)
	g.GET("/:id/equity", h.equity)
	g.GET("/:id/reconcile", h.reconcile)
}

func (h *AccountHandler) load(c *gin.Context) (*models.Account, bool) {
	id, ok := idParam(c, "id")
	if !ok || h.Repo == nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return nil, false
	}
	acct, err := h.Repo.GetAccount(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return nil, false
	}
	if acct == nil {
		Error(c, http.StatusNotFound, "account not found", nil)
		return nil, false
	}
	return acct, true
}

// @Summary Get account
// @Tags accounts
// @Param id path int true "account id"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id} [get]
func (h *AccountHandler) get(c *gin.Context) {
	acct, ok := h.load(c)
	if !ok {
		return
	}
	Ok(c, viewAccount(*acct), nil)
}

// @Summary List open positions
// @Tags accounts
// @Param id path int true "account id"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id}/positions [get]
func (h *AccountHandler) positions(c *gin.Context) {
	acct, ok := h.load(c)
	if !ok {
		return
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), acct.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, viewPositions(items), nil)
}

// @Summary List trades
// @Tags accounts
// @Param id path int true "account id"
// @Param market query string false "market"
// @Param action query string false "open|increase|reduce|close"
// @Param format query string false "json|csv"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id}/trades [get]
func (h *AccountHandler) trades(c *gin.Context) {
	acct, ok := h.load(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if strings.EqualFold(c.Query("format"), "csv") {
		items, err := engine.AllTrades(ctx, h.Repo, acct.ID)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", "attachment; filename=trades.csv")
		c.Status(http.StatusOK)
		if err := service.WriteTradesCSV(c.Writer, items); err != nil {
			_ = c.Error(err)
		}
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	var market *string
	if m := strQueryPtr(c, "market"); m != nil {
		upper := strings.ToUpper(*m)
		market = &upper
	}
	params := repository.ListTradesParams{
		AccountID: acct.ID,
		Market:    market,
		Action:    strQueryPtr(c, "action"),
		Limit:     limit,
		Offset:    offset,
	}
	items, err := h.Repo.ListTrades(ctx, params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTrades(ctx, params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, viewTrades(items), paginationMeta(limit, offset, total))
}

// @Summary Equity curve
// @Tags accounts
// @Param id path int true "account id"
// @Param limit query int false "page size"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id}/equity [get]
func (h *AccountHandler) equity(c *gin.Context) {
	acct, ok := h.load(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 500)
	items, err := h.Repo.ListEquityPoints(c.Request.Context(), repository.ListEquityPointsParams{
		AccountID: acct.ID,
		Limit:     limit,
		Offset:    intQuery(c, "offset", 0),
		Asc:       boolPtr(true),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, viewEquity(items), nil)
}

// @Summary Reconcile account against its trade history
// @Tags accounts
// @Param id path int true "account id"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id}/reconcile [get]
func (h *AccountHandler) reconcile(c *gin.Context) {
	acct, ok := h.load(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	trades, err := engine.AllTrades(ctx, h.Repo, acct.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	positions, err := h.Repo.ListPositions(ctx, acct.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	rec := accounting.Reconcile(*acct, trades, positions, decimal.NewFromFloat(h.ReconcileTol))
	Ok(c, rec, nil)
}
