package services

import (
	"context"
	"time"

	"example.com/eventhub/internal/apperrors"
	"example.com/eventhub/internal/cache"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/policy"
	"example.com/eventhub/internal/repositories"
	"example.com/eventhub/internal/search"
	"example.com/eventhub/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// statsCacheTTL bounds how stale statistics can be. Issuance and
// check-in invalidate the key; payment settlement does not, so sold
// counts may lag a settled payment by up to the TTL.
const statsCacheTTL = 30 * time.Second

// EventService owns the event lifecycle: draft, publish, terminal
// states, visibility, and statistics.
type EventService struct {
	db            *gorm.DB
	readOnlyDB    *gorm.DB
	eventRepo     *repositories.EventRepository
	ticketRepo    *repositories.TicketRepository
	cache         *cache.RedisCache
	elasticClient *search.ElasticClient
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewEventService creates a new event service
func NewEventService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *EventService {
	return &EventService{
		db:            db,
		readOnlyDB:    readOnlyDB,
		eventRepo:     repositories.NewEventRepository(db, readOnlyDB),
		ticketRepo:    repositories.NewTicketRepository(db, readOnlyDB),
		cache:         redisCache,
		elasticClient: elasticClient,
		metrics:       collector,
		tracer:        tracer,
	}
}

// EventInput carries the fields a caller may set when creating an
// event. Drafts need only title, description and category; the rest is
// validated at publish time.
type EventInput struct {
	Title        string
	Description  string
	Location     string
	StartDate    time.Time
	EndDate      time.Time
	Category     string
	MaxAttendees int
	TicketPrice  decimal.Decimal
	BannerImage  *string
}

// EventUpdate carries a partial update; nil fields are left untouched.
type EventUpdate struct {
	Title        *string
	Description  *string
	Location     *string
	StartDate    *time.Time
	EndDate      *time.Time
	Category     *string
	MaxAttendees *int
	TicketPrice  *decimal.Decimal
	BannerImage  *string
	Status       *models.EventStatus
}

// Create creates a draft event owned by the actor.
func (s *EventService) Create(ctx context.Context, actor *models.User, input EventInput) (*models.Event, error) {
	txn := s.tracer.StartTransaction("create-event")
	defer s.tracer.EndTransaction(txn)

	if !policy.CanCreateEvent(actor) {
		return nil, apperrors.NewPermission("only admins or organizers can create events")
	}

	fields := map[string]string{}
	if input.Title == "" {
		fields["title"] = "title is required"
	}
	if input.Description == "" {
		fields["description"] = "description is required"
	}
	if input.Category == "" {
		fields["category"] = "category is required"
	}
	if len(fields) > 0 {
		return nil, &apperrors.ValidationError{Fields: fields}
	}

	maxAttendees := input.MaxAttendees
	if maxAttendees == 0 {
		maxAttendees = 100
	}

	event := &models.Event{
		ID:           uuid.New(),
		Title:        input.Title,
		Description:  input.Description,
		OrganizerID:  actor.ID,
		Location:     input.Location,
		StartDate:    input.StartDate,
		EndDate:      input.EndDate,
		Category:     input.Category,
		BannerImage:  input.BannerImage,
		MaxAttendees: maxAttendees,
		TicketPrice:  input.TicketPrice,
		Status:       models.EventDraft,
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to create event")
	}

	log.Info().
		Str("event_id", event.ID.String()).
		Str("organizer_id", actor.ID.String()).
		Str("title", event.Title).
		Msg("Event created")

	return event, nil
}

// Update applies a partial update to an event, enforcing transition
// legality and full validation when the target status is Published.
func (s *EventService) Update(ctx context.Context, actor *models.User, eventID uuid.UUID, update EventUpdate) (*models.Event, error) {
	txn := s.tracer.StartTransaction("update-event")
	defer s.tracer.EndTransaction(txn)

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("event")
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if !policy.CanManageEvent(actor, event) {
		return nil, apperrors.NewPermission("you can only modify your own events")
	}

	if event.Status.Terminal() {
		return nil, apperrors.NewStateConflict(apperrors.ReasonEventClosed,
			"completed or cancelled events cannot be modified")
	}

	wasPublished := event.Status == models.EventPublished

	applyUpdate(event, update)

	if update.Status != nil {
		target := *update.Status
		if wasPublished && target == models.EventDraft {
			return nil, apperrors.NewStateConflict(apperrors.ReasonNotDraft,
				"published events cannot be reverted to draft")
		}
		event.Status = target
	}

	if event.Status == models.EventPublished {
		if fields := validateForPublish(event, time.Now()); len(fields) > 0 {
			return nil, &apperrors.ValidationError{Fields: fields}
		}
	}

	if err := s.eventRepo.Save(ctx, event); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to save event")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.GetStatsCacheKey(event.ID)); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to invalidate stats cache")
		}
	}

	if !wasPublished && event.Status == models.EventPublished {
		s.metrics.IncrementCounter(metrics.CounterEventsPublished)
		s.indexEvent(ctx, event)
		log.Info().
			Str("event_id", event.ID.String()).
			Time("start_date", event.StartDate).
			Msg("Event published")
	}

	return event, nil
}

// Publish moves a draft event to Published, validating every required
// field and reporting all violations at once.
func (s *EventService) Publish(ctx context.Context, actor *models.User, eventID uuid.UUID) (*models.Event, error) {
	published := models.EventPublished
	return s.Update(ctx, actor, eventID, EventUpdate{Status: &published})
}

// Cancel moves an event into the terminal Cancelled state.
func (s *EventService) Cancel(ctx context.Context, actor *models.User, eventID uuid.UUID) (*models.Event, error) {
	cancelled := models.EventCancelled
	return s.Update(ctx, actor, eventID, EventUpdate{Status: &cancelled})
}

// Get returns one event, honoring visibility: only Published events
// are visible to everyone; drafts only to their owner and admins.
func (s *EventService) Get(ctx context.Context, actor *models.User, eventID uuid.UUID) (*models.Event, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("event")
		}
		return nil, err
	}
	if event.Status != models.EventPublished && !policy.CanManageEvent(actor, event) {
		return nil, apperrors.NewNotFound("event")
	}
	return event, nil
}

// List returns the events visible to the actor. Anonymous callers and
// attendees see Published only; organizers additionally see their own
// events in any status; admins see everything.
func (s *EventService) List(ctx context.Context, actor *models.User, filter repositories.EventFilter) ([]models.Event, error) {
	scope := func(q *gorm.DB) *gorm.DB {
		switch {
		case actor == nil:
			return q.Where("status = ?", models.EventPublished)
		case actor.IsAdmin():
			return q
		case actor.IsOrganizer():
			return q.Where("status = ? OR organizer_id = ?", models.EventPublished, actor.ID)
		default:
			return q.Where("status = ?", models.EventPublished)
		}
	}
	return s.eventRepo.List(ctx, scope, filter)
}

// MyEvents returns the actor's own events, admin sees all.
func (s *EventService) MyEvents(ctx context.Context, actor *models.User, status models.EventStatus) ([]models.Event, error) {
	if actor == nil || (!actor.IsAdmin() && !actor.IsOrganizer()) {
		return nil, apperrors.NewPermission("only organizers can access this listing")
	}
	scope := func(q *gorm.DB) *gorm.DB {
		if actor.IsAdmin() {
			return q
		}
		return q.Where("organizer_id = ?", actor.ID)
	}
	return s.eventRepo.List(ctx, scope, repositories.EventFilter{Status: status, OrderBy: "-updated_at"})
}

// CompleteEndedEvents moves published events whose end date has passed
// to their terminal Completed state. Runs from the background worker.
func (s *EventService) CompleteEndedEvents(ctx context.Context) (int64, error) {
	txn := s.tracer.StartTransaction("complete-ended-events")
	defer s.tracer.EndTransaction(txn)

	completed, err := s.eventRepo.MarkEndedAsCompleted(ctx, time.Now())
	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, err
	}
	return completed, nil
}

// EventStats is the dashboard projection for one event.
type EventStats struct {
	TotalTickets      int64                    `json:"total_tickets"`
	SoldTickets       int64                    `json:"sold_tickets"`
	CheckedIn         int64                    `json:"checked_in"`
	AvailableCapacity int64                    `json:"available_capacity"`
	TicketTypes       []repositories.TypeCount `json:"ticket_types"`
	OccupancyRate     float64                  `json:"occupancy_rate"`
}

// Statistics computes ticket totals for an event. Non-published events
// get a zeroed record with capacity echoed rather than an error.
// Occupancy is a fraction in [0,1], zero when capacity is zero.
func (s *EventService) Statistics(ctx context.Context, actor *models.User, eventID uuid.UUID) (*EventStats, error) {
	txn := s.tracer.StartTransaction("event-statistics")
	defer s.tracer.EndTransaction(txn)

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("event")
		}
		return nil, err
	}

	if !policy.CanViewStatistics(actor, event) {
		return nil, apperrors.NewPermission("you don't have permission to view this event's statistics")
	}

	if event.Status != models.EventPublished {
		return &EventStats{
			AvailableCapacity: int64(event.MaxAttendees),
			TicketTypes:       []repositories.TypeCount{},
		}, nil
	}

	if s.cache != nil {
		var cached EventStats
		if err := s.cache.Get(ctx, cache.GetStatsCacheKey(eventID), &cached); err == nil {
			return &cached, nil
		}
	}

	total, err := s.ticketRepo.CountForEvent(ctx, eventID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	sold, err := s.ticketRepo.CountForEventByStatus(ctx, eventID, models.PaymentCompleted)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	checkedIn, err := s.ticketRepo.CountCheckedIn(ctx, eventID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	breakdown, err := s.ticketRepo.SoldBreakdownByType(ctx, eventID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	available := int64(event.MaxAttendees) - sold
	if available < 0 {
		available = 0
	}

	var occupancy float64
	if event.MaxAttendees > 0 {
		occupancy = float64(sold) / float64(event.MaxAttendees)
	}

	stats := &EventStats{
		TotalTickets:      total,
		SoldTickets:       sold,
		CheckedIn:         checkedIn,
		AvailableCapacity: available,
		TicketTypes:       breakdown,
		OccupancyRate:     occupancy,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.GetStatsCacheKey(eventID), stats, statsCacheTTL); err != nil {
			log.Debug().Err(err).Str("event_id", eventID.String()).Msg("Failed to cache event stats")
		}
	}

	return stats, nil
}

// Attendees lists completed tickets for a published event with their
// holders and check-in state.
func (s *EventService) Attendees(ctx context.Context, actor *models.User, eventID uuid.UUID) ([]models.Ticket, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("event")
		}
		return nil, err
	}
	if !policy.CanViewStatistics(actor, event) {
		return nil, apperrors.NewPermission("you don't have permission to view this event's attendees")
	}
	if event.Status != models.EventPublished {
		return nil, apperrors.NewValidation("status", "attendee information is only available for published events")
	}
	return s.ticketRepo.ListAttendees(ctx, eventID)
}

// indexEvent pushes a freshly published event into the discovery
// index. Best effort: the database remains the source of truth.
func (s *EventService) indexEvent(ctx context.Context, event *models.Event) {
	if s.elasticClient == nil {
		return
	}
	if err := s.elasticClient.IndexEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to index event")
	}
}

func applyUpdate(event *models.Event, update EventUpdate) {
	if update.Title != nil {
		event.Title = *update.Title
	}
	if update.Description != nil {
		event.Description = *update.Description
	}
	if update.Location != nil {
		event.Location = *update.Location
	}
	if update.StartDate != nil {
		event.StartDate = *update.StartDate
	}
	if update.EndDate != nil {
		event.EndDate = *update.EndDate
	}
	if update.Category != nil {
		event.Category = *update.Category
	}
	if update.MaxAttendees != nil {
		event.MaxAttendees = *update.MaxAttendees
	}
	if update.TicketPrice != nil {
		event.TicketPrice = *update.TicketPrice
	}
	if update.BannerImage != nil {
		event.BannerImage = update.BannerImage
	}
}

// validateForPublish collects every violated field so the caller sees
// the full list in one response.
func validateForPublish(event *models.Event, now time.Time) map[string]string {
	fields := map[string]string{}
	if event.Title == "" {
		fields["title"] = "title is required"
	}
	if event.Description == "" {
		fields["description"] = "description is required"
	}
	if event.Location == "" {
		fields["location"] = "location is required"
	}
	if event.Category == "" {
		fields["category"] = "category is required"
	}
	if event.StartDate.IsZero() {
		fields["start_date"] = "start date is required"
	} else if !event.StartDate.After(now) {
		fields["start_date"] = "start date must be in the future"
	}
	if event.EndDate.IsZero() {
		fields["end_date"] = "end date is required"
	} else if !event.StartDate.IsZero() && !event.EndDate.After(event.StartDate) {
		fields["end_date"] = "end date must be after start date"
	}
	if event.MaxAttendees < 1 {
		fields["max_attendees"] = "capacity must be at least 1"
	}
	if event.TicketPrice.IsNegative() {
		fields["ticket_price"] = "ticket price cannot be negative"
	}
	return fields
}
