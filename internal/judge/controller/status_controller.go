package controller

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"klausjudge/internal/judge/repository"
	"klausjudge/internal/judge/service"
	"klausjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProgressReader reads judging snapshots.
type ProgressReader interface {
	Get(ctx context.Context, submissionID uuid.UUID) (repository.Progress, error)
}

// DepthReader reports the pending job count.
type DepthReader interface {
	QueueDepth(ctx context.Context) (int64, error)
}

// StatsSource reports one worker loop's counters.
type StatsSource interface {
	Stats() service.LoopStats
}

// PoolStatter exposes connection pool statistics.
type PoolStatter interface {
	Stats() sql.DBStats
}

// StatusController serves the worker status endpoints.
type StatusController struct {
	checks   map[string]Pinger
	loops    []StatsSource
	queue    DepthReader
	progress ProgressReader
	pool     PoolStatter
}

// NewStatusController creates a controller. Nil collaborators disable their endpoints' data.
func NewStatusController(checks map[string]Pinger, loops []StatsSource, queue DepthReader, progress ProgressReader) *StatusController {
	return &StatusController{checks: checks, loops: loops, queue: queue, progress: progress}
}

// Health pings every dependency.
func (h *StatusController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	failures := make(map[string]string)
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		response.ServiceUnavailable(c, gin.H{"status": "degraded", "failures": failures})
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// WithPool adds database pool figures to /stats.
func (h *StatusController) WithPool(pool PoolStatter) *StatusController {
	h.pool = pool
	return h
}

// PoolView is the database pool part of /stats.
type PoolView struct {
	Open      int   `json:"open"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	MaxOpen   int   `json:"max_open"`
	WaitCount int64 `json:"wait_count"`
}

// StatsView is the /stats payload.
type StatsView struct {
	QueueDepth *int64              `json:"queue_depth,omitempty"`
	Processed  int64               `json:"processed"`
	Failed     int64               `json:"failed"`
	Workers    []service.LoopStats `json:"workers"`
	Database   *PoolView           `json:"database,omitempty"`
}

// Stats aggregates loop counters and the queue depth.
func (h *StatusController) Stats(c *gin.Context) {
	view := StatsView{Workers: make([]service.LoopStats, 0, len(h.loops))}
	for _, l := range h.loops {
		s := l.Stats()
		view.Processed += s.Processed
		view.Failed += s.Failed
		view.Workers = append(view.Workers, s)
	}
	if h.queue != nil {
		if depth, err := h.queue.QueueDepth(c.Request.Context()); err == nil {
			view.QueueDepth = &depth
		}
	}
	if h.pool != nil {
		st := h.pool.Stats()
		view.Database = &PoolView{
			Open:      st.OpenConnections,
			InUse:     st.InUse,
			Idle:      st.Idle,
			MaxOpen:   st.MaxOpenConnections,
			WaitCount: st.WaitCount,
		}
	}
	response.Success(c, view)
}

// GetProgress returns the judging snapshot for one submission.
func (h *StatusController) GetProgress(c *gin.Context) {
	if h.progress == nil {
		c.Status(http.StatusNotFound)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	p, err := h.progress.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}
