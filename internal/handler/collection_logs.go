package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplacer/internal/models"
	"marketplacer/internal/repository"
)

type CollectionLogHandler struct {
	Repo repository.CollectionLogRepository
}

func (h *CollectionLogHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/collection-logs", h.list)
}

// @Summary List collection log rows
// @Tags ops
// @Produce json
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param token_id query int false "credential id"
// @Param endpoint query string false "endpoint"
// @Param status query string false "success|error"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param order_by query string false "started_at|finished_at|records_count"
// @Param asc query bool false "ascending"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/v1/collection-logs [get]
func (h *CollectionLogHandler) list(c *gin.Context) {
	status := stringQueryPtr(c, "status")
	if status != nil && *status != models.CollectionStatusSuccess && *status != models.CollectionStatusError {
		Error(c, http.StatusBadRequest, "invalid status", nil)
		return
	}
	since, ok := timeQueryPtr(c, "since")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid since", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListCollectionLogs(c.Request.Context(), repository.ListCollectionLogsParams{
		Limit:    limit,
		Offset:   offset,
		TokenID:  uintQueryPtr(c, "token_id"),
		Endpoint: stringQueryPtr(c, "endpoint"),
		Status:   status,
		Since:    since,
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"started_at":    "started_at",
			"finished_at":   "finished_at",
			"records_count": "records_count",
		}),
		Asc: boolQueryPtr(c, "asc"),
	})
	if err != nil {
		StoreError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, len(items)))
}
