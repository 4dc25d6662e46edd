package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseIssuesPendingTicket(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")

	ticket, err := svc.Purchase(context.Background(), buyer, event.ID, models.TicketStandard, nil)

	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, ticket.PaymentStatus)
	assert.True(t, strings.HasPrefix(ticket.TicketNumber, "TKT-"))
	assert.Len(t, ticket.TicketNumber, len("TKT-")+8)
	assert.Equal(t, ticket.ID.String(), ticket.QRPayload)
	assert.False(t, ticket.CheckedIn)
}

func TestPurchaseSnapshotsPrice(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")

	ticket, err := svc.Purchase(context.Background(), buyer, event.ID, models.TicketStandard, nil)
	require.NoError(t, err)
	assert.True(t, ticket.PricePaid.Equal(decimal.RequireFromString("10.00")))

	// A later price change never touches issued tickets
	require.NoError(t, db.Model(event).Update("ticket_price", decimal.RequireFromString("99.00")).Error)
	var reloaded models.Ticket
	require.NoError(t, db.First(&reloaded, "id = ?", ticket.ID).Error)
	assert.True(t, reloaded.PricePaid.Equal(decimal.RequireFromString("10.00")))
}

func TestPurchaseSoldOut(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	buyerA := createUser(t, db, models.RoleAttendee)
	buyerB := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 1, "10.00")

	_, err := svc.Purchase(context.Background(), buyerA, event.ID, models.TicketStandard, nil)
	require.NoError(t, err)

	_, err = svc.Purchase(context.Background(), buyerB, event.ID, models.TicketStandard, nil)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonSoldOut, sc.Reason)
}

func TestPurchaseConcurrentBuyersNeverOversell(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	const capacity = 3
	event := createEvent(t, db, organizer, models.EventPublished, capacity, "10.00")

	buyers := make([]*models.User, capacity+1)
	for i := range buyers {
		buyers[i] = createUser(t, db, models.RoleAttendee)
	}

	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, buyer *models.User) {
			defer wg.Done()
			_, errs[i] = svc.Purchase(context.Background(), buyer, event.ID, models.TicketStandard, nil)
		}(i, buyer)
	}
	wg.Wait()

	var issued, soldOut int
	for _, err := range errs {
		if err == nil {
			issued++
			continue
		}
		var sc *apperrors.StateConflictError
		require.ErrorAs(t, err, &sc)
		require.Equal(t, apperrors.ReasonSoldOut, sc.Reason)
		soldOut++
	}
	assert.Equal(t, capacity, issued)
	assert.Equal(t, 1, soldOut)

	var count int64
	require.NoError(t, db.Model(&models.Ticket{}).Where("event_id = ?", event.ID).Count(&count).Error)
	assert.EqualValues(t, capacity, count)
}

func TestPurchaseUnpublishedEventNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	draft := createEvent(t, db, organizer, models.EventDraft, 50, "10.00")

	_, err := svc.Purchase(context.Background(), buyer, draft.ID, models.TicketStandard, nil)
	assert.Equal(t, "not_found", apperrors.Kind(err))

	_, err = svc.Purchase(context.Background(), buyer, uuid.New(), models.TicketStandard, nil)
	assert.Equal(t, "not_found", apperrors.Kind(err))
}

func TestPurchasePastEventExpired(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	require.NoError(t, db.Model(event).Update("start_date", time.Now().Add(-time.Hour)).Error)

	_, err := svc.Purchase(context.Background(), buyer, event.ID, models.TicketStandard, nil)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonEventExpired, sc.Reason)
}

func TestPurchaseRejectsUnknownTicketType(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")

	_, err := svc.Purchase(context.Background(), buyer, event.ID, models.TicketType("BACKSTAGE"), nil)
	assert.Equal(t, "validation_error", apperrors.Kind(err))
}

func TestCheckInHappyPathThenAlreadyRedeemed(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	holder := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, holder, models.PaymentCompleted)

	redeemed, err := svc.CheckIn(context.Background(), organizer, ticket.ID)
	require.NoError(t, err)
	assert.True(t, redeemed.CheckedIn)
	require.NotNil(t, redeemed.CheckedInTime)

	_, err = svc.CheckIn(context.Background(), organizer, ticket.ID)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonAlreadyRedeemed, sc.Reason)
}

func TestCheckInConcurrentScansRedeemOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	holder := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, holder, models.PaymentCompleted)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CheckIn(context.Background(), organizer, ticket.ID)
		}(i)
	}
	wg.Wait()

	var redeemed, rejected int
	for _, err := range errs {
		if err == nil {
			redeemed++
			continue
		}
		var sc *apperrors.StateConflictError
		require.ErrorAs(t, err, &sc)
		require.Equal(t, apperrors.ReasonAlreadyRedeemed, sc.Reason)
		rejected++
	}
	assert.Equal(t, 1, redeemed)
	assert.Equal(t, 1, rejected)
}

func TestCheckInRequiresCompletedPayment(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	holder := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, holder, models.PaymentPending)

	_, err := svc.CheckIn(context.Background(), organizer, ticket.ID)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonPaymentNotCompleted, sc.Reason)

	// The failed attempt left no partial state behind
	var reloaded models.Ticket
	require.NoError(t, db.First(&reloaded, "id = ?", ticket.ID).Error)
	assert.False(t, reloaded.CheckedIn)
}

func TestCheckInDeniedForForeignOrganizer(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	other := createUser(t, db, models.RoleOrganizer)
	holder := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, holder, models.PaymentCompleted)

	_, err := svc.CheckIn(context.Background(), other, ticket.ID)
	assert.Equal(t, "permission_denied", apperrors.Kind(err))

	_, err = svc.CheckIn(context.Background(), holder, ticket.ID)
	assert.Equal(t, "permission_denied", apperrors.Kind(err))
}

func TestVerifyTicketPreviewDoesNotRedeem(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	holder := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, holder, models.PaymentCompleted)

	preview, err := svc.VerifyTicket(context.Background(), organizer, ticket.ID)
	require.NoError(t, err)
	assert.True(t, preview.Valid)
	assert.False(t, preview.AlreadyUsed)
	assert.Equal(t, ticket.TicketNumber, preview.TicketNumber)
	assert.Equal(t, event.Title, preview.EventTitle)

	var reloaded models.Ticket
	require.NoError(t, db.First(&reloaded, "id = ?", ticket.ID).Error)
	assert.False(t, reloaded.CheckedIn)

	_, err = svc.CheckIn(context.Background(), organizer, ticket.ID)
	require.NoError(t, err)

	preview, err = svc.VerifyTicket(context.Background(), organizer, ticket.ID)
	require.NoError(t, err)
	assert.True(t, preview.AlreadyUsed)
}

func TestMyTicketsFiltersByEvent(t *testing.T) {
	db := newTestDB(t)
	svc := newTicketService(t, db)
	organizer := createUser(t, db, models.RoleOrganizer)
	holder := createUser(t, db, models.RoleAttendee)
	eventA := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	eventB := createEvent(t, db, organizer, models.EventPublished, 50, "15.00")

	createTicket(t, db, eventA, holder, models.PaymentCompleted)
	createTicket(t, db, eventB, holder, models.PaymentPending)

	all, err := svc.MyTickets(context.Background(), holder, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := svc.MyTickets(context.Background(), holder, &eventA.ID)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)
}
