// internal/socket/handler.go
package socket

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

// Handler handles WebSocket connections
type Handler struct {
	Hub      *Hub
	Verifier *identity.Verifier
	Service  service.MeetingService

	ctx      context.Context
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler creates a new WebSocket handler. Connections are bound to ctx;
// allowedOrigins containing "*" accepts any origin.
func NewHandler(ctx context.Context, hub *Hub, verifier *identity.Verifier, svc service.MeetingService, allowedOrigins []string, log *zap.Logger) *Handler {
	return &Handler{
		Hub:      hub,
		Verifier: verifier,
		Service:  svc,
		ctx:      ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log.Named("websocket"),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket handles WebSocket upgrade requests. The token is read from
// the query string first because the browser WebSocket API cannot set headers.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	caller, err := h.Verifier.Verify(tokenString)
	if err != nil {
		h.log.Debug("handshake rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   string(service.ErrAuthentication),
			"message": err.Error(),
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade error", zap.Error(err))
		return
	}

	client := NewClient(h.ctx, uuid.New().String(), caller, conn, h.Hub, h.Service, h.log)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}

	h.log.Info("client connected",
		zap.String("user", caller.UserID),
		zap.String("school", caller.SchoolID),
		zap.String("role", string(caller.Role)))

	go client.WritePump()
	go client.ReadPump()
}
