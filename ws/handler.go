package ws

import (
	"net/http"
	"strings"

	"social_backend/internal/auth"
	"social_backend/internal/logger"
	"social_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub      *Hub
	tokens   *auth.Manager
	upgrader websocket.Upgrader
}

// NewWebSocketHandler accepts handshakes from allowedOrigins. An empty list
// or "*" accepts any origin.
func NewWebSocketHandler(hub *Hub, tokens *auth.Manager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeWS authenticates the handshake and upgrades it. Unauthenticated
// requests get 401 and are never upgraded.
//
// @Summary      Realtime chat connection
// @Description  Websocket upgrade. The JWT comes from the Authorization header or the token query parameter.
// @Tags         realtime
// @Param        token  query  string  false  "JWT access token"
// @Success      101
// @Failure      401  {object}  apperrors.AppError
// @Router       /ws [get]
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	if token == "" {
		apperrors.HandleError(c, apperrors.NewUnauthorizedError("Missing access token"))
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "Rejected websocket handshake", "error", err)
		apperrors.HandleError(c, apperrors.ErrInvalidToken)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.CtxWarn(c.Request.Context(), "WebSocket upgrade failed", "error", err)
		return
	}

	logger.CtxDebug(c.Request.Context(), "WebSocket upgraded", "user_id", claims.UserID)
	client := newClient(h.hub, conn, claims.UserID)
	if !h.hub.registerClient(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients.
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
