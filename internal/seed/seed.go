// internal/seed/seed.go
package seed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// Development fixtures
const (
	DevSchoolID  = "school-dev"
	DevMeetingID = "meeting-dev"

	devTokenTTL = 24 * time.Hour
)

var devMembers = []models.AddMemberRequest{
	{Name: "Marga Ghale", Role: "Chair"},
	{Name: "Bipin Dhimal", Role: "Secretary"},
	{Name: "Kritim Kafle"},
	{Name: "Prerak Khadka"},
}

var devCallers = []identity.Identity{
	{SchoolID: DevSchoolID, UserID: "user-host", Name: "Marga Ghale", Role: types.RoleHost},
	{SchoolID: DevSchoolID, UserID: "user-member", Name: "Bipin Dhimal", Role: types.RoleMember},
	{SchoolID: DevSchoolID, UserID: "user-viewer", Name: "Observer", Role: types.RoleViewer},
}

// SeedData creates a development meeting with a roll call and an open motion,
// then logs a token per role so clients can connect. Members and the motion go
// through the meeting service so they are audited like any other command.
// An already seeded meeting is left alone.
func SeedData(ctx context.Context, repos *repository.Repositories, meetings service.MeetingService, issuer *identity.Issuer, log *zap.Logger) error {
	log = log.Named("seed")
	host := devCallers[0]
	now := time.Now().UnixMilli()

	if err := repos.MeetingRepo.Create(ctx, &models.Meeting{
		ID:        DevMeetingID,
		SchoolID:  DevSchoolID,
		Title:     "Board of Education Regular Session",
		Status:    "LIVE",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("create dev meeting: %w", err)
	}

	snap, err := meetings.GetSnapshot(ctx, host, DevMeetingID)
	if err != nil {
		return fmt.Errorf("load dev meeting: %w", err)
	}

	if len(snap.Members) == 0 {
		log.Info("creating development meeting", zap.String("school", DevSchoolID), zap.String("meeting", DevMeetingID))

		for _, req := range devMembers {
			req.MeetingID = DevMeetingID
			if _, err := meetings.AddMember(ctx, host, req); err != nil {
				return fmt.Errorf("add member %s: %w", req.Name, err)
			}
		}

		if _, err := meetings.OpenMotion(ctx, host, models.OpenMotionRequest{
			MeetingID:   DevMeetingID,
			Title:       "Approve minutes of the previous session",
			Description: "Motion to approve the minutes as circulated.",
		}); err != nil {
			return fmt.Errorf("open motion: %w", err)
		}
	} else {
		log.Info("development meeting already seeded", zap.Int("members", len(snap.Members)))
	}

	for _, caller := range devCallers {
		token, err := issuer.Issue(caller, devTokenTTL)
		if err != nil {
			return fmt.Errorf("issue %s token: %w", caller.Role, err)
		}
		log.Info("development token",
			zap.String("role", string(caller.Role)),
			zap.String("user", caller.UserID),
			zap.String("token", token))
	}

	return nil
}
