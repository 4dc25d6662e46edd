package services

import (
	"context"
	"testing"

	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureUserProvisionsAttendeeOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	id := uuid.New()

	user, err := svc.EnsureUser(context.Background(), id, "ngozi@example.com", "Ngozi", "Eze")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAttendee, user.Role)

	// A later approval survives repeated identity resolution
	require.NoError(t, db.Model(user).Update("role", models.RoleOrganizer).Error)
	again, err := svc.EnsureUser(context.Background(), id, "ngozi@example.com", "Ngozi", "Eze")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOrganizer, again.Role)
}

func TestRequestOrganizerRoleValidation(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	attendee := createUser(t, db, models.RoleAttendee)

	_, err := svc.RequestOrganizerRole(context.Background(), attendee, OrganizerRequestInput{})

	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "organization_name")
	assert.Contains(t, ve.Fields, "reason_for_request")
}

func TestRequestOrganizerRoleRejectsExistingOrganizer(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)

	_, err := svc.RequestOrganizerRole(context.Background(), organizer, OrganizerRequestInput{
		OrgName: "Acme Events",
		Reason:  "more reach",
	})

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonAlreadyOrganizer, sc.Reason)
}

func TestRequestOrganizerRoleBlocksSecondPendingRequest(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	attendee := createUser(t, db, models.RoleAttendee)

	input := OrganizerRequestInput{OrgName: "Acme Events", Reason: "more reach"}
	_, err := svc.RequestOrganizerRole(context.Background(), attendee, input)
	require.NoError(t, err)

	_, err = svc.RequestOrganizerRole(context.Background(), attendee, input)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonRequestPending, sc.Reason)
}

func TestApprovalPromotesUser(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	attendee := createUser(t, db, models.RoleAttendee)
	admin := createUser(t, db, models.RoleAdmin)

	request, err := svc.RequestOrganizerRole(context.Background(), attendee, OrganizerRequestInput{
		OrgName: "Acme Events",
		Reason:  "more reach",
	})
	require.NoError(t, err)

	notes := "looks solid"
	reviewed, err := svc.ReviewOrganizerRequest(context.Background(), admin, request.ID, true, &notes)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, reviewed.Status)
	require.NotNil(t, reviewed.AdminNotes)
	assert.Equal(t, notes, *reviewed.AdminNotes)

	var promoted models.User
	require.NoError(t, db.First(&promoted, "id = ?", attendee.ID).Error)
	assert.Equal(t, models.RoleOrganizer, promoted.Role)
}

func TestRejectionLeavesRoleUntouched(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	attendee := createUser(t, db, models.RoleAttendee)
	admin := createUser(t, db, models.RoleAdmin)

	request, err := svc.RequestOrganizerRole(context.Background(), attendee, OrganizerRequestInput{
		OrgName: "Acme Events",
		Reason:  "more reach",
	})
	require.NoError(t, err)

	reviewed, err := svc.ReviewOrganizerRequest(context.Background(), admin, request.ID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, reviewed.Status)

	var unchanged models.User
	require.NoError(t, db.First(&unchanged, "id = ?", attendee.ID).Error)
	assert.Equal(t, models.RoleAttendee, unchanged.Role)
}

func TestReviewIsOneWay(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	attendee := createUser(t, db, models.RoleAttendee)
	admin := createUser(t, db, models.RoleAdmin)

	request, err := svc.RequestOrganizerRole(context.Background(), attendee, OrganizerRequestInput{
		OrgName: "Acme Events",
		Reason:  "more reach",
	})
	require.NoError(t, err)

	_, err = svc.ReviewOrganizerRequest(context.Background(), admin, request.ID, false, nil)
	require.NoError(t, err)

	_, err = svc.ReviewOrganizerRequest(context.Background(), admin, request.ID, true, nil)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonAlreadyReviewed, sc.Reason)
}

func TestReviewRequiresAdmin(t *testing.T) {
	db := newTestDB(t)
	svc := newUserService(t, db)
	attendee := createUser(t, db, models.RoleAttendee)
	organizer := createUser(t, db, models.RoleOrganizer)

	request, err := svc.RequestOrganizerRole(context.Background(), attendee, OrganizerRequestInput{
		OrgName: "Acme Events",
		Reason:  "more reach",
	})
	require.NoError(t, err)

	_, err = svc.ReviewOrganizerRequest(context.Background(), organizer, request.ID, true, nil)
	assert.Equal(t, "permission_denied", apperrors.Kind(err))

	_, err = svc.ListPendingRequests(context.Background(), organizer)
	assert.Equal(t, "permission_denied", apperrors.Kind(err))
}
