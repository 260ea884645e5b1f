package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/models"
	"tradeloop/internal/service"
)

type SettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/settings")
	g.GET("/switches", h.listSwitches)
	g.GET("/:key", h.get)
	g.PUT("/:key", h.put)
}

type settingView struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func viewSetting(item models.SystemSetting) settingView {
	return settingView{
		Key:       item.Key,
		Kind:      item.Kind,
		Value:     rawOrNull(item.Value),
		UpdatedBy: item.UpdatedBy,
		UpdatedAt: item.UpdatedAt,
	}
}

// @Summary List feature switches
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/v1/settings/switches [get]
func (h *SettingsHandler) listSwitches(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	out := map[string]bool{}
	for key, def := range service.DefaultFeatureSwitches() {
		out[key] = h.Settings.IsEnabled(ctx, key, def)
	}
	Ok(c, out, nil)
}

// @Summary Get setting
// @Tags settings
// @Param key path string true "setting key"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/settings/{key} [get]
func (h *SettingsHandler) get(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	item, err := h.Settings.Get(c.Request.Context(), key)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "setting not found", nil)
		return
	}
	Ok(c, viewSetting(*item), nil)
}

type putSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// @Summary Put setting
// @Tags settings
// @Accept json
// @Param key path string true "setting key"
// @Param body body putSettingRequest true "value"
// @Success 200 {object} apiResponse
// @Router /api/v1/settings/{key} [put]
func (h *SettingsHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Value) == 0 {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ctx := c.Request.Context()
	actor := "api"
	if rid := c.GetString("request_id"); rid != "" {
		actor = "api:" + rid
	}
	if err := h.Settings.SetAs(ctx, key, req.Value, actor); err != nil {
		Error(c, statusOf(err), err.Error(), nil)
		return
	}
	item, err := h.Settings.Get(ctx, key)
	if err != nil || item == nil {
		Error(c, http.StatusBadGateway, "setting not persisted", nil)
		return
	}
	Ok(c, viewSetting(*item), nil)
}
