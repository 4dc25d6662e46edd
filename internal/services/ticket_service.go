package services

import (
	"context"
	"strings"
	"time"

	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/cache"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/policy"
	"example.com/eventhub/internal/repositories"
	"example.com/eventhub/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// previewCacheTTL bounds how stale a gate-scan preview can be after a
// payment settles out of band.
const previewCacheTTL = 15 * time.Second

// TicketService reserves inventory against events and redeems tickets
// at the venue.
type TicketService struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	ticketRepo *repositories.TicketRepository
	eventRepo  *repositories.EventRepository
	cache      *cache.RedisCache
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewTicketService creates a new ticket service
func NewTicketService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *TicketService {
	return &TicketService{
		db:         db,
		readOnlyDB: readOnlyDB,
		ticketRepo: repositories.NewTicketRepository(db, readOnlyDB),
		eventRepo:  repositories.NewEventRepository(db, readOnlyDB),
		cache:      redisCache,
		metrics:    collector,
		tracer:     tracer,
	}
}

// Purchase reserves one slot of an event's inventory and creates a
// Pending ticket. The capacity check and the insert run in one
// transaction holding the event row, so two buyers racing for the last
// slot cannot both win.
func (s *TicketService) Purchase(ctx context.Context, user *models.User, eventID uuid.UUID, ticketType models.TicketType, customImage *string) (*models.Ticket, error) {
	txn := s.tracer.StartTransaction("purchase-ticket")
	defer s.tracer.EndTransaction(txn)

	if ticketType == "" {
		ticketType = models.TicketStandard
	}
	if !models.ValidTicketType(ticketType) {
		return nil, apperrors.NewValidation("ticket_type", "unknown ticket type")
	}

	var ticket *models.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := lockEventRow(tx, eventID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("event")
			}
			return errors.Wrap(err, "failed to load event for purchase")
		}

		// An unpublished event reads the same as a missing one from
		// the buyer's side
		if event.Status != models.EventPublished {
			return apperrors.NewNotFound("event")
		}

		if !event.StartDate.After(time.Now()) {
			return apperrors.NewStateConflict(apperrors.ReasonEventExpired,
				"cannot purchase tickets for past events")
		}

		var issued int64
		if err := tx.Model(&models.Ticket{}).Where("event_id = ?", event.ID).Count(&issued).Error; err != nil {
			return errors.Wrap(err, "failed to count issued tickets")
		}
		if issued >= int64(event.MaxAttendees) {
			return apperrors.NewStateConflict(apperrors.ReasonSoldOut, "this event is sold out")
		}

		id := uuid.New()
		ticket = &models.Ticket{
			ID:            id,
			EventID:       event.ID,
			UserID:        user.ID,
			TicketNumber:  newTicketNumber(),
			QRPayload:     id.String(),
			TicketType:    ticketType,
			PricePaid:     event.TicketPrice,
			PaymentStatus: models.PaymentPending,
			CustomImage:   customImage,
		}

		if err := tx.Create(ticket).Error; err != nil {
			return errors.Wrap(err, "failed to create ticket")
		}
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.CounterTicketsIssued)
	s.invalidateStats(ctx, eventID)

	log.Info().
		Str("ticket_id", ticket.ID.String()).
		Str("ticket_number", ticket.TicketNumber).
		Str("event_id", eventID.String()).
		Str("user_id", user.ID.String()).
		Str("price_paid", ticket.PricePaid.String()).
		Msg("Ticket issued")

	return ticket, nil
}

// CheckIn redeems a completed ticket. One-way: a second call for the
// same ticket always fails with AlreadyRedeemed, and the race between
// two simultaneous calls is settled inside the transaction.
func (s *TicketService) CheckIn(ctx context.Context, actor *models.User, ticketID uuid.UUID) (*models.Ticket, error) {
	txn := s.tracer.StartTransaction("check-in-ticket")
	defer s.tracer.EndTransaction(txn)

	var ticket models.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&ticket, "id = ?", ticketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("ticket")
			}
			return errors.Wrap(err, "failed to load ticket for check-in")
		}

		var event models.Event
		if err := tx.First(&event, "id = ?", ticket.EventID).Error; err != nil {
			return errors.Wrap(err, "failed to load ticket's event")
		}

		if !policy.CanCheckIn(actor, &event) {
			return apperrors.NewPermission("you don't have permission to check in tickets for this event")
		}

		if ticket.CheckedIn {
			return apperrors.NewStateConflict(apperrors.ReasonAlreadyRedeemed, "ticket already checked in")
		}
		if ticket.PaymentStatus != models.PaymentCompleted {
			return apperrors.NewStateConflict(apperrors.ReasonPaymentNotCompleted, "ticket payment not completed")
		}

		now := time.Now()
		ticket.CheckedIn = true
		ticket.CheckedInTime = &now
		if err := tx.Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Updates(map[string]interface{}{"checked_in": true, "checked_in_time": now}).Error; err != nil {
			return errors.Wrap(err, "failed to mark ticket checked in")
		}
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.CounterTicketsCheckedIn)
	s.invalidateStats(ctx, ticket.EventID)
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.GetTicketPreviewCacheKey(ticket.ID)); err != nil {
			log.Debug().Err(err).Str("ticket_id", ticket.ID.String()).Msg("Failed to invalidate ticket preview")
		}
	}

	log.Info().
		Str("ticket_id", ticket.ID.String()).
		Str("ticket_number", ticket.TicketNumber).
		Str("actor_id", actor.ID.String()).
		Msg("Ticket checked in")

	return &ticket, nil
}

// TicketVerification is the venue-side preview returned before a
// check-in is committed. Reading it never mutates the ticket.
type TicketVerification struct {
	Valid        bool              `json:"valid"`
	AlreadyUsed  bool              `json:"already_used"`
	TicketNumber string            `json:"ticket_number"`
	EventTitle   string            `json:"event"`
	TicketType   models.TicketType `json:"ticket_type"`
	HolderName   string            `json:"user"`
	HolderEmail  string            `json:"user_email"`
	CustomImage  *string           `json:"custom_image"`
}

// VerifyTicket answers "would a check-in succeed" without committing
// one.
func (s *TicketService) VerifyTicket(ctx context.Context, actor *models.User, ticketID uuid.UUID) (*TicketVerification, error) {
	var ticket models.Ticket
	err := s.readOnlyDB.WithContext(ctx).
		Preload("User").
		Preload("Event").
		First(&ticket, "id = ?", ticketID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, errors.Wrap(err, "failed to load ticket")
	}

	if !policy.CanCheckIn(actor, &ticket.Event) {
		return nil, apperrors.NewPermission("you don't have permission to verify tickets for this event")
	}

	if s.cache != nil {
		var cached TicketVerification
		if err := s.cache.Get(ctx, cache.GetTicketPreviewCacheKey(ticketID), &cached); err == nil {
			return &cached, nil
		}
	}

	holder := strings.TrimSpace(ticket.User.FirstName + " " + ticket.User.LastName)
	verification := &TicketVerification{
		Valid:        ticket.PaymentStatus == models.PaymentCompleted,
		AlreadyUsed:  ticket.CheckedIn,
		TicketNumber: ticket.TicketNumber,
		EventTitle:   ticket.Event.Title,
		TicketType:   ticket.TicketType,
		HolderName:   holder,
		HolderEmail:  ticket.User.Email,
		CustomImage:  ticket.CustomImage,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.GetTicketPreviewCacheKey(ticketID), verification, previewCacheTTL); err != nil {
			log.Debug().Err(err).Str("ticket_id", ticketID.String()).Msg("Failed to cache ticket preview")
		}
	}
	return verification, nil
}

// MyTickets lists the caller's tickets, optionally for one event.
func (s *TicketService) MyTickets(ctx context.Context, user *models.User, eventID *uuid.UUID) ([]models.Ticket, error) {
	return s.ticketRepo.ListForUser(ctx, user.ID, eventID)
}

// GetTicket returns one ticket, visible to its holder, the event's
// organizer, and admins.
func (s *TicketService) GetTicket(ctx context.Context, actor *models.User, ticketID uuid.UUID) (*models.Ticket, error) {
	ticket, err := s.ticketRepo.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("ticket")
		}
		return nil, err
	}
	if ticket.UserID == actor.ID || actor.IsAdmin() {
		return ticket, nil
	}
	event, err := s.eventRepo.GetByID(ctx, ticket.EventID)
	if err == nil && policy.CanCheckIn(actor, event) {
		return ticket, nil
	}
	return nil, apperrors.NewNotFound("ticket")
}

func (s *TicketService) invalidateStats(ctx context.Context, eventID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.GetStatsCacheKey(eventID)); err != nil {
		log.Debug().Err(err).Str("event_id", eventID.String()).Msg("Failed to invalidate stats cache")
	}
}

// lockEventRow loads the event inside the transaction. Postgres takes
// a FOR UPDATE row lock so concurrent purchases for the same event
// serialize; SQLite has no FOR UPDATE syntax and its single-writer
// transactions already serialize writes.
func lockEventRow(tx *gorm.DB, eventID uuid.UUID) (*models.Event, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var event models.Event
	if err := q.First(&event, "id = ?", eventID).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// newTicketNumber generates the human-readable ticket number, unique
// by constraint.
func newTicketNumber() string {
	return "TKT-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
