package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/gin-gonic/gin"
)

// Pinger is implemented by *repository.PostgresDB and *repository.RedisDB.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db       Pinger
	redis    Pinger
	recorder service.VisitRecorder
}

func NewHealthHandler(db, redis Pinger, recorder service.VisitRecorder) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, recorder: recorder}
}

// HealthCheck отвечает 503 без PostgreSQL и degraded без Redis.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := gin.H{}

	if h.db != nil {
		checks["postgres"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			if code == http.StatusOK {
				status = "degraded"
			}
		}
	}

	body := gin.H{
		"status":  status,
		"service": "fairlink",
		"checks":  checks,
	}
	if h.recorder != nil {
		body["recorder"] = h.recorder.QueueStats()
	}

	c.JSON(code, body)
}
