package handler

import (
	"github.com/gin-gonic/gin"

	"marketplacer/internal/repository"
)

type SyncStateHandler struct {
	Repo repository.SyncStateRepository
}

func (h *SyncStateHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/sync-states", h.list)
}

// @Summary List sync states
// @Tags ops
// @Produce json
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param token_id query int false "credential id"
// @Param endpoint query string false "endpoint"
// @Param order_by query string false "updated_at|token_id|endpoint|last_successful_sync|next_sync_date"
// @Param asc query bool false "ascending"
// @Success 200 {object} map[string]any
// @Router /api/v1/sync-states [get]
func (h *SyncStateHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListSyncStates(c.Request.Context(), repository.ListSyncStatesParams{
		Limit:    limit,
		Offset:   offset,
		TokenID:  uintQueryPtr(c, "token_id"),
		Endpoint: stringQueryPtr(c, "endpoint"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"updated_at":           "updated_at",
			"token_id":             "token_id",
			"endpoint":             "endpoint",
			"last_successful_sync": "last_successful_sync",
			"next_sync_date":       "next_sync_date",
		}),
		Asc: boolQueryPtr(c, "asc"),
	})
	if err != nil {
		StoreError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, len(items)))
}
