package utils

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/pkg/models"
)

// LogProjectHistory inserts an audit record into project_histories.
// Used to track status changes and actions on a project.
// Errors are ignored on purpose (best-effort logging).
func LogProjectHistory(
	ctx context.Context,
	db *gorm.DB,
	projectID, actorID uuid.UUID,
	action string,
	oldS, newS models.ProjectStatus,
	reason string,
) {
	_ = db.WithContext(ctx).Create(&models.ProjectHistory{
		ProjectID: projectID,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldS,
		NewStatus: newS,
		Reason:    reason,
		CreatedAt: time.Now(),
	}).Error
}
