package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/gateway"
	"example.com/eventhub/internal/messaging"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	initErr      error
	initCalls    int
	verifyResult *gateway.VerifyResult
	verifyErr    error
	verifyCalls  int
}

func (f *fakeGateway) Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &gateway.InitializeResult{
		AuthorizationURL: "https://checkout.example.com/" + req.Reference,
		AccessCode:       "code_" + req.Reference,
	}, nil
}

func (f *fakeGateway) Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyResult, nil
}

type fakeDispatcher struct {
	confirmations []*messaging.TicketConfirmation
}

func (f *fakeDispatcher) NotifyTicketConfirmed(ctx context.Context, confirmation *messaging.TicketConfirmation) error {
	f.confirmations = append(f.confirmations, confirmation)
	return nil
}

func (f *fakeDispatcher) Close() error { return nil }

func newPaymentService(t *testing.T, db *gorm.DB, gw gateway.Client, dispatcher messaging.Dispatcher, cfg config.PaystackConfig) *PaymentService {
	t.Helper()
	return NewPaymentService(db, db, gw, dispatcher, metrics.NewMetrics(), newTestTracer(t), cfg)
}

func pendingTicketFixture(t *testing.T, db *gorm.DB) (*models.User, *models.Ticket) {
	t.Helper()
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, buyer, models.PaymentPending)
	return buyer, ticket
}

func TestInitiateCreatesPaymentWithReference(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := newPaymentService(t, db, gw, &fakeDispatcher{}, config.PaystackConfig{Currency: "NGN"})
	buyer, ticket := pendingTicketFixture(t, db)

	result, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	ticketHex := strings.ReplaceAll(ticket.ID.String(), "-", "")[:8]
	assert.True(t, strings.HasPrefix(result.Reference, "TM-"+ticketHex+"-"))
	assert.Len(t, result.Reference, len("TM-")+8+1+8)
	assert.Contains(t, result.AuthorizationURL, result.Reference)
	assert.Equal(t, 1, gw.initCalls)

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", result.Reference).Error)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, "NGN", payment.Currency)
	assert.True(t, payment.Amount.Equal(ticket.PricePaid))
	assert.Nil(t, payment.TransactionID)
}

func TestInitiateCleansUpOnGatewayFailure(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{initErr: &apperrors.GatewayUnavailableError{Err: fmt.Errorf("connection refused")}}
	svc := newPaymentService(t, db, gw, &fakeDispatcher{}, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	_, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	assert.Equal(t, "gateway_unavailable", apperrors.Kind(err))

	var count int64
	require.NoError(t, db.Unscoped().Model(&models.Payment{}).Where("ticket_id = ?", ticket.ID).Count(&count).Error)
	assert.Zero(t, count)

	var reloaded models.Ticket
	require.NoError(t, db.First(&reloaded, "id = ?", ticket.ID).Error)
	assert.Equal(t, models.PaymentPending, reloaded.PaymentStatus)
}

func TestInitiateRejectsPaidTicket(t *testing.T) {
	db := newTestDB(t)
	svc := newPaymentService(t, db, &fakeGateway{}, &fakeDispatcher{}, config.PaystackConfig{})
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, buyer, models.PaymentCompleted)

	_, err := svc.Initiate(context.Background(), buyer, ticket.ID)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonAlreadyPaid, sc.Reason)
}

func TestInitiateRejectsRefundedTicket(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := newPaymentService(t, db, gw, &fakeDispatcher{}, config.PaystackConfig{})
	organizer := createUser(t, db, models.RoleOrganizer)
	buyer := createUser(t, db, models.RoleAttendee)
	event := createEvent(t, db, organizer, models.EventPublished, 50, "10.00")
	ticket := createTicket(t, db, event, buyer, models.PaymentRefunded)

	_, err := svc.Initiate(context.Background(), buyer, ticket.ID)

	var sc *apperrors.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, apperrors.ReasonPaymentNotPending, sc.Reason)
	assert.Zero(t, gw.initCalls)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Where("ticket_id = ?", ticket.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInitiateHidesForeignTicket(t *testing.T) {
	db := newTestDB(t)
	svc := newPaymentService(t, db, &fakeGateway{}, &fakeDispatcher{}, config.PaystackConfig{})
	_, ticket := pendingTicketFixture(t, db)
	stranger := createUser(t, db, models.RoleAttendee)

	_, err := svc.Initiate(context.Background(), stranger, ticket.ID)
	assert.Equal(t, "not_found", apperrors.Kind(err))
}

func TestVerifyCompletesPaymentAndTicketAtomically(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{verifyResult: &gateway.VerifyResult{Success: true, TransactionID: "12345", RawStatus: "success"}}
	dispatcher := &fakeDispatcher{}
	svc := newPaymentService(t, db, gw, dispatcher, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	payment, err := svc.Verify(context.Background(), initiated.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	require.NotNil(t, payment.TransactionID)
	assert.Equal(t, "12345", *payment.TransactionID)

	var reloaded models.Ticket
	require.NoError(t, db.First(&reloaded, "id = ?", ticket.ID).Error)
	assert.Equal(t, models.PaymentCompleted, reloaded.PaymentStatus)

	require.Len(t, dispatcher.confirmations, 1)
	assert.Equal(t, ticket.TicketNumber, dispatcher.confirmations[0].TicketNumber)
}

func TestVerifyIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{verifyResult: &gateway.VerifyResult{Success: true, TransactionID: "12345", RawStatus: "success"}}
	dispatcher := &fakeDispatcher{}
	svc := newPaymentService(t, db, gw, dispatcher, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), initiated.Reference)
	require.NoError(t, err)

	// Second verify succeeds without touching the gateway again or
	// re-dispatching the confirmation
	payment, err := svc.Verify(context.Background(), initiated.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	assert.Equal(t, 1, gw.verifyCalls)
	assert.Len(t, dispatcher.confirmations, 1)
}

func TestVerifyRejectionMarksPaymentFailed(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{verifyResult: &gateway.VerifyResult{Success: false, RawStatus: "failed"}}
	svc := newPaymentService(t, db, gw, &fakeDispatcher{}, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), initiated.Reference)
	assert.Equal(t, "verification_failed", apperrors.Kind(err))

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", initiated.Reference).Error)
	assert.Equal(t, models.PaymentFailed, payment.Status)

	var reloaded models.Ticket
	require.NoError(t, db.First(&reloaded, "id = ?", ticket.ID).Error)
	assert.Equal(t, models.PaymentPending, reloaded.PaymentStatus)
}

func TestVerifyGatewayOutageLeavesPaymentPending(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{verifyErr: &apperrors.GatewayUnavailableError{Err: fmt.Errorf("timeout")}}
	svc := newPaymentService(t, db, gw, &fakeDispatcher{}, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), initiated.Reference)
	assert.Equal(t, "gateway_unavailable", apperrors.Kind(err))

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", initiated.Reference).Error)
	assert.Equal(t, models.PaymentPending, payment.Status)
}

func webhookBody(t *testing.T, event, reference string, transactionID int) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"id":        transactionID,
			"reference": reference,
			"status":    "success",
		},
	})
	require.NoError(t, err)
	return body
}

func TestWebhookChargeSuccessCompletesOnce(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &fakeDispatcher{}
	svc := newPaymentService(t, db, &fakeGateway{}, dispatcher, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	body := webhookBody(t, "charge.success", initiated.Reference, 98765)
	require.NoError(t, svc.HandleWebhook(context.Background(), body, ""))

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", initiated.Reference).Error)
	assert.Equal(t, models.PaymentCompleted, payment.Status)

	// Redelivery is acknowledged without a second transition
	require.NoError(t, svc.HandleWebhook(context.Background(), body, ""))
	assert.Len(t, dispatcher.confirmations, 1)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &fakeDispatcher{}
	svc := newPaymentService(t, db, &fakeGateway{}, dispatcher, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	body := webhookBody(t, "transfer.success", initiated.Reference, 98765)
	require.NoError(t, svc.HandleWebhook(context.Background(), body, ""))

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", initiated.Reference).Error)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Empty(t, dispatcher.confirmations)
}

func TestWebhookSignatureVerification(t *testing.T) {
	db := newTestDB(t)
	secret := "whsec_test"
	svc := newPaymentService(t, db, &fakeGateway{}, &fakeDispatcher{}, config.PaystackConfig{WebhookSecret: secret})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	body := webhookBody(t, "charge.success", initiated.Reference, 98765)

	err = svc.HandleWebhook(context.Background(), body, "deadbeef")
	assert.Equal(t, "permission_denied", apperrors.Kind(err))

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))
	require.NoError(t, svc.HandleWebhook(context.Background(), body, signature))

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", initiated.Reference).Error)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
}

func TestWebhookUnknownReferenceAcked(t *testing.T) {
	db := newTestDB(t)
	svc := newPaymentService(t, db, &fakeGateway{}, &fakeDispatcher{}, config.PaystackConfig{})

	body := webhookBody(t, "charge.success", "TM-deadbeef-UNKNOWN1", 1)
	require.NoError(t, svc.HandleWebhook(context.Background(), body, ""))
}

func TestReconcilePendingSettlesStuckPayments(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{verifyResult: &gateway.VerifyResult{Success: true, TransactionID: "777", RawStatus: "success"}}
	dispatcher := &fakeDispatcher{}
	svc := newPaymentService(t, db, gw, dispatcher, config.PaystackConfig{})
	buyer, ticket := pendingTicketFixture(t, db)

	initiated, err := svc.Initiate(context.Background(), buyer, ticket.ID)
	require.NoError(t, err)

	// Age is zero so the fresh payment is already eligible
	settled, err := svc.ReconcilePending(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	var payment models.Payment
	require.NoError(t, db.First(&payment, "reference = ?", initiated.Reference).Error)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	assert.Len(t, dispatcher.confirmations, 1)
}

func TestHistoryListsOwnPaymentsOnly(t *testing.T) {
	db := newTestDB(t)
	svc := newPaymentService(t, db, &fakeGateway{}, &fakeDispatcher{}, config.PaystackConfig{})
	buyerA, ticketA := pendingTicketFixture(t, db)
	buyerB, ticketB := pendingTicketFixture(t, db)

	_, err := svc.Initiate(context.Background(), buyerA, ticketA.ID)
	require.NoError(t, err)
	_, err = svc.Initiate(context.Background(), buyerB, ticketB.ID)
	require.NoError(t, err)

	payments, err := svc.History(context.Background(), buyerA)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, buyerA.ID, payments[0].UserID)
}
