package handler

import (
	"github.com/gin-gonic/gin"

	"marketplacer/internal/taskqueue"
)

// QueueStatser is the read side of the task queue.
type QueueStatser interface {
	Stats() taskqueue.Stats
}

// CollectorCounter reports registered collectors per marketplace.
type CollectorCounter interface {
	Count() map[string]int
}

type QueueHandler struct {
	Queue      QueueStatser
	Collectors CollectorCounter
	Workers    int
}

type queueView struct {
	taskqueue.Stats
	Workers    int            `json:"workers"`
	Collectors map[string]int `json:"collectors"`
}

func (h *QueueHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/queue", h.stats)
}

// @Summary Queue and worker pool snapshot
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/queue [get]
func (h *QueueHandler) stats(c *gin.Context) {
	view := queueView{Workers: h.Workers, Collectors: map[string]int{}}
	if h.Queue != nil {
		view.Stats = h.Queue.Stats()
	}
	if h.Collectors != nil {
		view.Collectors = h.Collectors.Count()
	}
	Ok(c, view, nil)
}
