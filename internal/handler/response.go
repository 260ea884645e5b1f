package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/engine"
	"tradeloop/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ErrorData writes an error envelope that still carries a payload.
func ErrorData(c *gin.Context, status int, message string, data any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Data:    data,
	})
}

// statusOf maps service and engine errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidSettingValue):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSessionNotRunning), errors.Is(err, engine.ErrTickInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoPrices):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
