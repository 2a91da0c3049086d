package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	Meeting *MeetingHandler
	Health  *HealthHandler
}

// NewHandlers creates all handlers
func NewHandlers(services *service.Services, checks map[string]Pinger, log *zap.Logger) *Handlers {
	return &Handlers{
		Meeting: NewMeetingHandler(services.Meeting, log),
		Health:  NewHealthHandler(checks),
	}
}

// ============================================
// Error responses
// ============================================

var statusByKind = map[service.Kind]int{
	service.ErrAuthentication: http.StatusUnauthorized,
	service.ErrAuthorization:  http.StatusForbidden,
	service.ErrValidation:     http.StatusBadRequest,
	service.ErrConflict:       http.StatusConflict,
	service.ErrNotFound:       http.StatusNotFound,
	service.ErrPersistence:    http.StatusServiceUnavailable,
	service.ErrChainIntegrity: http.StatusInternalServerError,
}

// respondError writes err as {"error": kind, "message": ...}.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := string(kind)
	var svcErr *service.Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		message = svcErr.Message
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{"error": string(kind), "message": message})
}
