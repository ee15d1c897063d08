package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
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

// StoreError answers a failed repository read. A client that went away or
// a query that ran out of time is not reported as a server fault.
func StoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		Error(c, 499, "request cancelled", nil)
	case errors.Is(err, context.DeadlineExceeded):
		Error(c, http.StatusGatewayTimeout, "query timed out", nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}

func paginationMeta(limit, offset, count int) map[string]any {
	return map[string]any{
		"limit":  limit,
		"offset": offset,
		"count":  count,
	}
}
