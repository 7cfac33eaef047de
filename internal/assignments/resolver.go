package assignments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/assignx/assignx-backend/pkg/models"
)

var (
	// ErrDoerNotEligible is the base error for every eligibility failure;
	// the wrapping EligibilityError carries the specific reason.
	ErrDoerNotEligible = errors.New("doer not eligible")

	// ErrNoEligibleDoer means auto-selection found nobody to bind.
	ErrNoEligibleDoer = errors.New("no eligible doer for project")
)

// Reason is the specific eligibility check a candidate failed.
type Reason string

const (
	ReasonUnavailable     Reason = "unavailable"
	ReasonNotActivated    Reason = "not_activated"
	ReasonBlacklisted     Reason = "blacklisted"
	ReasonAtCapacity      Reason = "at_capacity"
	ReasonSubjectMismatch Reason = "subject_mismatch"
	ReasonNotFound        Reason = "not_found"
)

// EligibilityError reports why a specific candidate was rejected.
type EligibilityError struct {
	DoerID uuid.UUID
	Reason Reason
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("doer %s not eligible: %s", e.DoerID, e.Reason)
}

func (e *EligibilityError) Unwrap() error { return ErrDoerNotEligible }

// activeCount counts the doer's assignments on non-terminal projects. Must
// run inside the same transaction that creates the new assignment, with the
// doer row locked, so two projects cannot race for the last capacity slot.
func activeCount(tx *gorm.DB, doerID uuid.UUID) (int, error) {
	var cnt int64
	err := tx.Model(&models.Assignment{}).
		Joins("JOIN projects ON projects.id = assignments.project_id").
		Where("assignments.doer_id = ?", doerID).
		Where("projects.status NOT IN ?", []models.ProjectStatus{
			models.ProjectCompleted, models.ProjectAutoApproved, models.ProjectCancelled,
		}).
		Count(&cnt).Error
	return int(cnt), err
}

// validate locks the doer row and runs every eligibility check against the
// current transactional view.
func validate(tx *gorm.DB, project *models.Project, doerID uuid.UUID) (*models.User, error) {
	var doer models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&doer, "id = ? AND role = ?", doerID, models.RoleDoer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &EligibilityError{DoerID: doerID, Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, err
	}

	if !doer.Activated {
		return nil, &EligibilityError{DoerID: doerID, Reason: ReasonNotActivated}
	}
	if !doer.Available {
		return nil, &EligibilityError{DoerID: doerID, Reason: ReasonUnavailable}
	}

	var subjectMatch int64
	if err := tx.Model(&models.DoerSubject{}).
		Where("doer_id = ? AND subject = ?", doerID, project.Subject).
		Count(&subjectMatch).Error; err != nil {
		return nil, err
	}
	if subjectMatch == 0 {
		return nil, &EligibilityError{DoerID: doerID, Reason: ReasonSubjectMismatch}
	}

	if project.SupervisorID != nil {
		var blocked int64
		if err := tx.Model(&models.Blacklist{}).
			Where("supervisor_id = ? AND doer_id = ?", *project.SupervisorID, doerID).
			Count(&blocked).Error; err != nil {
			return nil, err
		}
		if blocked > 0 {
			return nil, &EligibilityError{DoerID: doerID, Reason: ReasonBlacklisted}
		}
	}

	active, err := activeCount(tx, doerID)
	if err != nil {
		return nil, err
	}
	if active >= doer.MaxConcurrentProjects {
		return nil, &EligibilityError{DoerID: doerID, Reason: ReasonAtCapacity}
	}

	return &doer, nil
}

// Resolve binds a doer to a paid project and returns the Assignment row,
// created inside tx. payoutCents is snapshotted from the project's active
// quote by the caller. When candidateID is nil the best eligible doer is
// selected: rating desc, most recently available first, earliest profile
// creation as the stable tie-break.
//
// Resolve does not transition the project; the caller sequences resolve
// then transition inside the same transaction.
func Resolve(tx *gorm.DB, project *models.Project, payoutCents int64, candidateID *uuid.UUID) (*models.Assignment, error) {
	if candidateID != nil {
		if _, err := validate(tx, project, *candidateID); err != nil {
			return nil, err
		}
		return bind(tx, project.ID, *candidateID, payoutCents)
	}

	// Ranked candidate pool; capacity is re-checked per candidate under the
	// row lock, so a stale read here cannot oversubscribe anyone.
	var ids []uuid.UUID
	err := tx.Model(&models.User{}).
		Joins("JOIN doer_subjects ON doer_subjects.doer_id = users.id AND doer_subjects.subject = ?", project.Subject).
		Where("users.role = ? AND users.available AND users.activated", models.RoleDoer).
		Order("users.rating DESC, users.last_available_at DESC NULLS LAST, users.created_at ASC").
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := validate(tx, project, id); err != nil {
			if errors.Is(err, ErrDoerNotEligible) {
				continue
			}
			return nil, err
		}
		return bind(tx, project.ID, id, payoutCents)
	}
	return nil, ErrNoEligibleDoer
}

func bind(tx *gorm.DB, projectID, doerID uuid.UUID, payoutCents int64) (*models.Assignment, error) {
	a := models.Assignment{
		ProjectID:   projectID,
		DoerID:      doerID,
		PayoutCents: payoutCents,
		AssignedAt:  time.Now(),
	}
	if err := tx.Create(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
