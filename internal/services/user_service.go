package services

import (
	"context"
	"strings"

	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/policy"
	"example.com/eventhub/internal/repositories"
	"example.com/eventhub/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// UserService maintains local user rows and runs the organizer-request
// review flow. Authentication lives upstream; this service only trusts
// the identity claims it is handed.
type UserService struct {
	db          *gorm.DB
	readOnlyDB  *gorm.DB
	userRepo    *repositories.UserRepository
	requestRepo *repositories.OrganizerRequestRepository
	tracer      tracing.Tracer
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB, readOnlyDB *gorm.DB, tracer tracing.Tracer) *UserService {
	return &UserService{
		db:          db,
		readOnlyDB:  readOnlyDB,
		userRepo:    repositories.NewUserRepository(db, readOnlyDB),
		requestRepo: repositories.NewOrganizerRequestRepository(db, readOnlyDB),
		tracer:      tracer,
	}
}

// EnsureUser returns the local row for an upstream identity, creating
// an attendee row on first sight. The role is owned locally after
// that; upstream claims never overwrite an approved organizer.
func (s *UserService) EnsureUser(ctx context.Context, id uuid.UUID, email, firstName, lastName string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = &models.User{
		ID:        id,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Role:      models.RoleAttendee,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		// Concurrent first requests for the same identity can both
		// miss the read; the unique email settles it
		if isUniqueViolation(err) {
			return s.userRepo.GetByID(ctx, id)
		}
		return nil, errors.Wrap(err, "failed to create user")
	}

	log.Info().Str("user_id", id.String()).Msg("Provisioned local user")
	return user, nil
}

// GetUser loads one user row.
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("user")
		}
		return nil, err
	}
	return user, nil
}

// OrganizerRequestInput is the application an attendee submits for the
// organizer role.
type OrganizerRequestInput struct {
	OrgName        string `json:"organization_name"`
	OrgDescription string `json:"organization_description"`
	Reason         string `json:"reason_for_request"`
}

// RequestOrganizerRole files an application. One live application per
// user: a pending one blocks a new one, and existing organizers cannot
// apply again.
func (s *UserService) RequestOrganizerRole(ctx context.Context, user *models.User, input OrganizerRequestInput) (*models.OrganizerRequest, error) {
	if user.IsOrganizer() || user.IsAdmin() {
		return nil, apperrors.NewStateConflict(apperrors.ReasonAlreadyOrganizer,
			"you already hold the organizer role")
	}

	fields := map[string]string{}
	if strings.TrimSpace(input.OrgName) == "" {
		fields["organization_name"] = "organization name is required"
	}
	if strings.TrimSpace(input.Reason) == "" {
		fields["reason_for_request"] = "reason is required"
	}
	if len(fields) > 0 {
		return nil, &apperrors.ValidationError{Fields: fields}
	}

	latest, err := s.requestRepo.LatestForUser(ctx, user.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if latest != nil && latest.Status == models.RequestPending {
		return nil, apperrors.NewStateConflict(apperrors.ReasonRequestPending,
			"you already have a pending organizer request")
	}

	request := &models.OrganizerRequest{
		ID:             uuid.New(),
		UserID:         user.ID,
		OrgName:        strings.TrimSpace(input.OrgName),
		OrgDescription: strings.TrimSpace(input.OrgDescription),
		Reason:         strings.TrimSpace(input.Reason),
		Status:         models.RequestPending,
	}
	if err := s.requestRepo.Create(ctx, request); err != nil {
		return nil, errors.Wrap(err, "failed to create organizer request")
	}

	log.Info().
		Str("request_id", request.ID.String()).
		Str("user_id", user.ID.String()).
		Msg("Organizer request filed")
	return request, nil
}

// MyOrganizerRequest returns the caller's most recent application.
func (s *UserService) MyOrganizerRequest(ctx context.Context, user *models.User) (*models.OrganizerRequest, error) {
	request, err := s.requestRepo.LatestForUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("organizer request")
		}
		return nil, err
	}
	return request, nil
}

// ListPendingRequests returns the admin review queue.
func (s *UserService) ListPendingRequests(ctx context.Context, actor *models.User) ([]models.OrganizerRequest, error) {
	if !policy.CanReviewOrganizerRequests(actor) {
		return nil, apperrors.NewPermission("only admins can review organizer requests")
	}
	return s.requestRepo.ListPending(ctx)
}

// ReviewOrganizerRequest settles a pending application. Approval flips
// the applicant's role in the same transaction, and review is one-way:
// a settled request cannot be reopened or re-reviewed.
func (s *UserService) ReviewOrganizerRequest(ctx context.Context, actor *models.User, requestID uuid.UUID, approve bool, adminNotes *string) (*models.OrganizerRequest, error) {
	txn := s.tracer.StartTransaction("review-organizer-request")
	defer s.tracer.EndTransaction(txn)

	if !policy.CanReviewOrganizerRequests(actor) {
		return nil, apperrors.NewPermission("only admins can review organizer requests")
	}

	request, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("organizer request")
		}
		return nil, err
	}

	status := models.RequestRejected
	if approve {
		status = models.RequestApproved
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OrganizerRequest{}).
			Where("id = ? AND status = ?", request.ID, models.RequestPending).
			Updates(map[string]interface{}{
				"status":      status,
				"admin_notes": adminNotes,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to update organizer request")
		}
		if res.RowsAffected == 0 {
			return apperrors.NewStateConflict(apperrors.ReasonAlreadyReviewed,
				"organizer request has already been reviewed")
		}

		if approve {
			if err := tx.Model(&models.User{}).
				Where("id = ?", request.UserID).
				Update("role", models.RoleOrganizer).Error; err != nil {
				return errors.Wrap(err, "failed to promote user to organizer")
			}
		}
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("request_id", request.ID.String()).
		Str("user_id", request.UserID.String()).
		Str("status", string(status)).
		Str("reviewer_id", actor.ID.String()).
		Msg("Organizer request reviewed")

	return s.requestRepo.GetByID(ctx, requestID)
}
