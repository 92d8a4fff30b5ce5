package handlers

import (
	"net/http"

	"social_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

type PresenceReader interface {
	UserStatus(userID uint) (*dto.PresenceResponse, error)
}

type PresenceHandler struct {
	*BaseHandler
	presence PresenceReader
}

func NewPresenceHandler(base *BaseHandler, presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{
		BaseHandler: base,
		presence:    presence,
	}
}

func (h *PresenceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/presence/:userId", h.GetUserStatus)
}

// GetUserStatus godoc
// @Summary      Online flag and last-seen time of a user
// @Tags         presence
// @Produce      json
// @Security     BearerAuth
// @Param        userId  path      int  true  "User ID"
// @Success      200     {object}  dto.PresenceResponse
// @Failure      400     {object}  apperrors.ErrorResponse
// @Router       /presence/{userId} [get]
func (h *PresenceHandler) GetUserStatus(c *gin.Context) {
	if _, ok := h.GetAndAuthorizeUserID(c); !ok {
		return
	}
	userID, err := ParseParamUint(c, "userId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	status, err := h.presence.UserStatus(userID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
