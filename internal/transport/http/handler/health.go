package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"triagechat/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports 503 when any store or broker the turn pipeline needs is down.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := map[string]dependencyStatus{
		"mysql":    h.checkMySQL(ctx),
		"redis":    h.checkRedis(ctx),
		"rabbitmq": h.checkRabbitMQ(),
	}

	statusCode := http.StatusOK
	for _, st := range deps {
		if !st.OK {
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, gin.H{
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"version":      h.app.Config.App.Version,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": deps,
	})
}

func (h *HealthHandler) checkMySQL(ctx context.Context) dependencyStatus {
	if h.app.MySQL == nil {
		return dependencyStatus{Message: "not configured"}
	}
	sqlDB, err := h.app.MySQL.DB()
	if err != nil {
		return dependencyStatus{Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dependencyStatus{Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if h.app.Redis == nil {
		return dependencyStatus{Message: "not configured"}
	}
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return dependencyStatus{Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn == nil || h.app.MQConn.IsClosed() {
		return dependencyStatus{Message: "connection closed"}
	}
	return dependencyStatus{OK: true}
}
