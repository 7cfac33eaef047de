package revisions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/pkg/models"
)

var (
	// ErrRevisionAlreadyOpen means the project already has an unresolved revision.
	ErrRevisionAlreadyOpen = errors.New("revision already open")

	// ErrNoOpenRevision means there is nothing to close.
	ErrNoOpenRevision = errors.New("no open revision")
)

// Revisions are indexed records keyed by (project, number); numbers grow
// monotonically and at most one revision per project is unresolved. All
// functions take the caller's transaction so a revision row commits together
// with the state transition that caused it.

// Open records a new QC rejection cycle for the project.
func Open(tx *gorm.DB, projectID, requestedBy uuid.UUID, feedback string) (*models.Revision, error) {
	var open int64
	if err := tx.Model(&models.Revision{}).
		Where("project_id = ? AND resolved_at IS NULL", projectID).
		Count(&open).Error; err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, ErrRevisionAlreadyOpen
	}

	next, err := Count(tx, projectID)
	if err != nil {
		return nil, err
	}

	r := models.Revision{
		ProjectID:   projectID,
		Number:      next + 1,
		RequestedBy: requestedBy,
		Feedback:    feedback,
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// Close resolves the project's open revision.
func Close(tx *gorm.DB, projectID uuid.UUID) error {
	var r models.Revision
	err := tx.Where("project_id = ? AND resolved_at IS NULL", projectID).
		Order("number DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoOpenRevision
	}
	if err != nil {
		return err
	}
	now := time.Now()
	return tx.Model(&r).Update("resolved_at", now).Error
}

// Count returns how many revision cycles (open or closed) the project has had.
// The state machine uses it to enforce the revision cap.
func Count(tx *gorm.DB, projectID uuid.UUID) (int, error) {
	var cnt int64
	err := tx.Model(&models.Revision{}).
		Where("project_id = ?", projectID).
		Count(&cnt).Error
	return int(cnt), err
}
