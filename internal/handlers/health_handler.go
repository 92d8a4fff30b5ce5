package handlers

import (
	"net/http"

	"social_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports live realtime connections on this instance.
type ConnectionCounter interface {
	ClientCount() int
}

type HealthHandler struct {
	*BaseHandler
	conns ConnectionCounter
}

func NewHealthHandler(base *BaseHandler, conns ConnectionCounter) *HealthHandler {
	return &HealthHandler{BaseHandler: base, conns: conns}
}

type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Connections int    `json:"connections"`
}

// Health godoc
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  handlers.HealthResponse
// @Failure      503  {object}  apperrors.ErrorResponse
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	sqlDB, err := h.GetDB(c).DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.HandleServiceError(c, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "database", "Database unavailable", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Database:    "ok",
		Connections: h.conns.ClientCount(),
	})
}
