package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/gateway"
	"example.com/eventhub/internal/messaging"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/repositories"
	"example.com/eventhub/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const referenceAttempts = 3

// PaymentService drives the charge lifecycle for tickets. Gateway
// calls always happen outside database transactions; the state
// transition itself is a guarded update so that verify, webhook and
// reconciliation can all race safely over the same reference.
type PaymentService struct {
	db          *gorm.DB
	readOnlyDB  *gorm.DB
	paymentRepo *repositories.PaymentRepository
	ticketRepo  *repositories.TicketRepository
	gateway     gateway.Client
	dispatcher  messaging.Dispatcher
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
	cfg         config.PaystackConfig
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	gatewayClient gateway.Client,
	dispatcher messaging.Dispatcher,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
	cfg config.PaystackConfig,
) *PaymentService {
	return &PaymentService{
		db:          db,
		readOnlyDB:  readOnlyDB,
		paymentRepo: repositories.NewPaymentRepository(db, readOnlyDB),
		ticketRepo:  repositories.NewTicketRepository(db, readOnlyDB),
		gateway:     gatewayClient,
		dispatcher:  dispatcher,
		metrics:     collector,
		tracer:      tracer,
		cfg:         cfg,
	}
}

// InitiateResult carries the redirect handle back to the buyer.
type InitiateResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	PaymentID        string `json:"payment_id"`
}

// Initiate creates a Pending payment for the caller's ticket and asks
// the gateway for an authorization URL. If the gateway call fails the
// payment record is removed again so retries start clean.
func (s *PaymentService) Initiate(ctx context.Context, user *models.User, ticketID uuid.UUID) (*InitiateResult, error) {
	txn := s.tracer.StartTransaction("initiate-payment")
	defer s.tracer.EndTransaction(txn)

	ticket, err := s.ticketRepo.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, err
	}
	// Another user's ticket reads the same as a missing one
	if ticket.UserID != user.ID && !user.IsAdmin() {
		return nil, apperrors.NewNotFound("ticket")
	}
	// Only a Pending ticket may take a charge. A Refunded or Failed
	// ticket must not mint a fresh authorization URL.
	switch ticket.PaymentStatus {
	case models.PaymentPending:
	case models.PaymentCompleted:
		return nil, apperrors.NewStateConflict(apperrors.ReasonAlreadyPaid, "ticket is already paid for")
	default:
		return nil, apperrors.NewStateConflict(apperrors.ReasonPaymentNotPending, "ticket is not awaiting payment")
	}

	payment := &models.Payment{
		ID:       uuid.New(),
		UserID:   user.ID,
		TicketID: ticket.ID,
		Amount:   ticket.PricePaid,
		Currency: s.currency(),
		Status:   models.PaymentPending,
	}

	// Reference collisions are vanishingly rare but the column is
	// unique, so retry with a fresh suffix instead of failing the
	// purchase
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		payment.Reference = newPaymentReference(ticket.ID)
		err = s.paymentRepo.Create(ctx, payment)
		if err == nil {
			break
		}
		if !isUniqueViolation(err) {
			return nil, errors.Wrap(err, "failed to create payment")
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create payment after reference retries")
	}

	result, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
		Email:       user.Email,
		AmountMinor: ticket.PricePaid.Shift(2).IntPart(),
		Reference:   payment.Reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]string{
			"ticket_id":  ticket.ID.String(),
			"payment_id": payment.ID.String(),
			"event_id":   ticket.EventID.String(),
			"user_id":    user.ID.String(),
		},
	})
	if err != nil {
		// Drop the orphaned record; nothing was charged under this
		// reference
		if delErr := s.paymentRepo.Delete(ctx, payment.ID); delErr != nil {
			log.Error().Err(delErr).
				Str("payment_id", payment.ID.String()).
				Msg("Failed to clean up payment after gateway error")
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.CounterPaymentsInitiated)

	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("ticket_id", ticket.ID.String()).
		Str("reference", payment.Reference).
		Str("amount", payment.Amount.String()).
		Msg("Payment initiated")

	return &InitiateResult{
		Reference:        payment.Reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		PaymentID:        payment.ID.String(),
	}, nil
}

// Verify asks the gateway for the state of a reference and commits the
// outcome. Calling it again for a completed payment is a no-op
// success.
func (s *PaymentService) Verify(ctx context.Context, reference string) (*models.Payment, error) {
	txn := s.tracer.StartTransaction("verify-payment")
	defer s.tracer.EndTransaction(txn)

	payment, err := s.paymentRepo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("payment")
		}
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		return payment, nil
	}

	result, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if !result.Success {
		if err := s.markFailed(ctx, payment.ID); err != nil {
			return nil, err
		}
		s.metrics.IncrementCounter(metrics.CounterPaymentsFailed)
		log.Warn().
			Str("reference", reference).
			Str("gateway_status", result.RawStatus).
			Msg("Payment verification failed")
		return nil, &apperrors.VerificationFailedError{Reference: reference}
	}

	if err := s.complete(ctx, payment, result.TransactionID); err != nil {
		return nil, err
	}
	return s.paymentRepo.GetByReference(ctx, reference)
}

// paystackWebhook is the envelope Paystack posts to the webhook
// endpoint.
type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID        json.Number `json:"id"`
		Reference string      `json:"reference"`
		Status    string      `json:"status"`
	} `json:"data"`
}

// HandleWebhook processes a gateway notification. The signature is an
// HMAC-SHA512 of the raw body; verification is skipped when no webhook
// secret is configured. Redeliveries of an already-processed charge
// are acknowledged without side effects.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	txn := s.tracer.StartTransaction("payment-webhook")
	defer s.tracer.EndTransaction(txn)

	s.metrics.IncrementCounter(metrics.CounterWebhooksReceived)

	if s.cfg.WebhookSecret != "" && !validSignature(s.cfg.WebhookSecret, body, signature) {
		return apperrors.NewPermission("invalid webhook signature")
	}

	var event paystackWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		return apperrors.NewValidation("body", "malformed webhook payload")
	}

	if event.Event != "charge.success" {
		log.Debug().Str("event", event.Event).Msg("Ignoring webhook event")
		return nil
	}

	payment, err := s.paymentRepo.GetByReference(ctx, event.Data.Reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Ack unknown references so the gateway stops retrying
			log.Warn().Str("reference", event.Data.Reference).Msg("Webhook for unknown payment reference")
			return nil
		}
		return err
	}

	return s.complete(ctx, payment, event.Data.ID.String())
}

// History lists the caller's payments, newest first.
func (s *PaymentService) History(ctx context.Context, user *models.User) ([]models.Payment, error) {
	return s.paymentRepo.ListForUser(ctx, user.ID)
}

// ReconcilePending sweeps payments stuck in Pending longer than age
// and settles each one against the gateway. Transient gateway errors
// leave the payment untouched for the next sweep.
func (s *PaymentService) ReconcilePending(ctx context.Context, age time.Duration, limit int) (int, error) {
	txn := s.tracer.StartTransaction("reconcile-pending-payments")
	defer s.tracer.EndTransaction(txn)

	cutoff := time.Now().Add(-age)
	pending, err := s.paymentRepo.ListPendingOlderThan(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range pending {
		payment := &pending[i]
		result, err := s.gateway.Verify(ctx, payment.Reference)
		if err != nil {
			log.Warn().Err(err).
				Str("reference", payment.Reference).
				Msg("Reconciliation verify failed, will retry next sweep")
			continue
		}

		if result.Success {
			if err := s.complete(ctx, payment, result.TransactionID); err != nil {
				log.Error().Err(err).Str("reference", payment.Reference).Msg("Reconciliation completion failed")
				continue
			}
			settled++
			continue
		}

		if result.RawStatus == "failed" || result.RawStatus == "abandoned" {
			if err := s.markFailed(ctx, payment.ID); err != nil {
				log.Error().Err(err).Str("reference", payment.Reference).Msg("Reconciliation failure mark failed")
				continue
			}
			s.metrics.IncrementCounter(metrics.CounterPaymentsFailed)
			settled++
		}
	}

	if settled > 0 {
		log.Info().Int("settled", settled).Int("scanned", len(pending)).Msg("Reconciled pending payments")
	}
	return settled, nil
}

// complete commits the Pending -> Completed transition for the payment
// and its ticket in one transaction. The update is guarded on the
// current status, so of any number of concurrent callers exactly one
// performs the transition; only that caller dispatches the
// confirmation.
func (s *PaymentService) complete(ctx context.Context, payment *models.Payment, transactionID string) error {
	transitioned := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
			Updates(map[string]interface{}{
				"status":         models.PaymentCompleted,
				"transaction_id": transactionID,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to complete payment")
		}
		if res.RowsAffected == 0 {
			// Lost the race or the payment already left Pending;
			// nothing more to do
			return nil
		}
		transitioned = true

		if err := tx.Model(&models.Ticket{}).
			Where("id = ?", payment.TicketID).
			Update("payment_status", models.PaymentCompleted).Error; err != nil {
			return errors.Wrap(err, "failed to mark ticket paid")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	s.metrics.IncrementCounter(metrics.CounterPaymentsCompleted)
	s.dispatchConfirmation(ctx, payment)

	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("reference", payment.Reference).
		Msg("Payment completed")
	return nil
}

// markFailed moves a payment to Failed unless something else settled
// it first.
func (s *PaymentService) markFailed(ctx context.Context, paymentID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentPending).
		Update("status", models.PaymentFailed).Error
}

// dispatchConfirmation publishes the ticket confirmation after the
// transition committed. Delivery trouble is logged, never surfaced to
// the buyer.
func (s *PaymentService) dispatchConfirmation(ctx context.Context, payment *models.Payment) {
	if s.dispatcher == nil {
		return
	}

	var ticket models.Ticket
	err := s.readOnlyDB.WithContext(ctx).
		Preload("Event").
		Preload("User").
		First(&ticket, "id = ?", payment.TicketID).Error
	if err != nil {
		log.Error().Err(err).
			Str("ticket_id", payment.TicketID.String()).
			Msg("Failed to load ticket for confirmation dispatch")
		return
	}

	confirmation := &messaging.TicketConfirmation{
		TicketID:     ticket.ID.String(),
		TicketNumber: ticket.TicketNumber,
		EventID:      ticket.EventID.String(),
		EventTitle:   ticket.Event.Title,
		UserID:       ticket.UserID.String(),
		UserEmail:    ticket.User.Email,
		Reference:    payment.Reference,
	}
	if err := s.dispatcher.NotifyTicketConfirmed(ctx, confirmation); err != nil {
		log.Error().Err(err).
			Str("reference", payment.Reference).
			Msg("Failed to dispatch ticket confirmation")
	}
}

func (s *PaymentService) currency() string {
	if s.cfg.Currency != "" {
		return s.cfg.Currency
	}
	return "NGN"
}

// validSignature checks the Paystack x-paystack-signature header, an
// HMAC-SHA512 hex digest of the raw body keyed with the webhook
// secret.
func validSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// newPaymentReference builds a reference bound to the ticket. The
// ticket prefix makes gateway dashboards greppable; the random suffix
// keeps retries for one ticket distinct.
func newPaymentReference(ticketID uuid.UUID) string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffix := make([]byte, 8)
	random := make([]byte, 8)
	if _, err := rand.Read(random); err != nil {
		// crypto/rand is not expected to fail; fall back to uuid bytes
		copy(random, uuid.New().String())
	}
	for i, b := range random {
		suffix[i] = charset[int(b)%len(charset)]
	}
	ticketHex := strings.ReplaceAll(ticketID.String(), "-", "")[:8]
	return "TM-" + ticketHex + "-" + string(suffix)
}

// isUniqueViolation reports whether err is a unique-constraint error
// from either Postgres or SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}
