package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/api/middleware"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

type MeetingHandler struct {
	meetingService service.MeetingService
	log            *zap.Logger
}

func NewMeetingHandler(meetingService service.MeetingService, log *zap.Logger) *MeetingHandler {
	return &MeetingHandler{
		meetingService: meetingService,
		log:            log.Named("meeting_handler"),
	}
}

// GetSnapshot returns the current state of a meeting in the caller's school.
func (h *MeetingHandler) GetSnapshot(c *gin.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		respondError(c, service.ErrAuthentication)
		return
	}

	snap, err := h.meetingService.GetSnapshot(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// ListAudit returns the meeting's audit records in chain order.
func (h *MeetingHandler) ListAudit(c *gin.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		respondError(c, service.ErrAuthentication)
		return
	}

	records, err := h.meetingService.ListAudit(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// VerifyAudit recomputes the meeting's chain. A broken chain is reported in
// the body with 200; only a failed read is an error.
func (h *MeetingHandler) VerifyAudit(c *gin.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		respondError(c, service.ErrAuthentication)
		return
	}

	res, err := h.meetingService.VerifyChain(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Valid {
		h.log.Warn("audit chain invalid",
			zap.String("school", res.SchoolID),
			zap.String("meeting", res.MeetingID),
			zap.String("reason", res.Reason))
	}

	c.JSON(http.StatusOK, res)
}
