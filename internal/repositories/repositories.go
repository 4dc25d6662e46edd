package repositories

import (
	"context"
	"time"

	"example.com/eventhub/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventRepository provides access to event data
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new event
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	// Use write DB for writes
	return r.db.WithContext(ctx).Create(event).Error
}

// GetByID gets an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event by ID")
	}
	return &event, nil
}

// Save persists all fields of an already-loaded event
func (r *EventRepository) Save(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Save(event).Error
}

// EventFilter narrows and orders an event listing
type EventFilter struct {
	Search    string
	Category  string
	Status    models.EventStatus
	StartDate *time.Time
	OrderBy   string // one of the whitelisted orderings, default "-created_at"
}

// List returns events matching the base visibility scope and filter.
// The scope closure applies role-dependent visibility so the query
// stays in one place.
func (r *EventRepository) List(ctx context.Context, scope func(*gorm.DB) *gorm.DB, filter EventFilter) ([]models.Event, error) {
	q := r.readOnlyDB.WithContext(ctx).Model(&models.Event{})
	if scope != nil {
		q = scope(q)
	}

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where(
			"LOWER(title) LIKE LOWER(?) OR LOWER(description) LIKE LOWER(?) OR LOWER(location) LIKE LOWER(?) OR LOWER(category) LIKE LOWER(?)",
			pattern, pattern, pattern, pattern,
		)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.StartDate != nil {
		q = q.Where("start_date >= ?", *filter.StartDate)
	}

	q = q.Order(orderClause(filter.OrderBy))

	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	return events, nil
}

// orderClause maps the public ordering names onto SQL. Unknown values
// fall back to newest-created first.
func orderClause(orderBy string) string {
	switch orderBy {
	case "start_date":
		return "start_date ASC"
	case "-start_date":
		return "start_date DESC"
	case "ticket_price":
		return "ticket_price ASC"
	case "-ticket_price":
		return "ticket_price DESC"
	case "created_at":
		return "created_at ASC"
	case "updated_at":
		return "updated_at ASC"
	case "-updated_at":
		return "updated_at DESC"
	default:
		return "created_at DESC"
	}
}

// MarkEndedAsCompleted flips Published events whose end date has
// passed into the terminal Completed state. Returns the number of
// events swept.
func (r *EventRepository) MarkEndedAsCompleted(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("status = ? AND end_date < ?", models.EventPublished, now).
		Update("status", models.EventCompleted)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to complete ended events")
	}
	return result.RowsAffected, nil
}

// TicketRepository provides access to ticket data
type TicketRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TicketRepository {
	return &TicketRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a ticket by ID
func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.readOnlyDB.WithContext(ctx).First(&ticket, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ticket by ID")
	}
	return &ticket, nil
}

// CountForEvent counts every ticket issued against an event,
// regardless of payment state. This is the inventory figure.
func (r *TicketRepository) CountForEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Ticket{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count tickets for event")
	}
	return count, nil
}

// CountForEventByStatus counts an event's tickets in one payment state
func (r *TicketRepository) CountForEventByStatus(ctx context.Context, eventID uuid.UUID, status models.PaymentStatus) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Ticket{}).
		Where("event_id = ? AND payment_status = ?", eventID, status).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count tickets by status")
	}
	return count, nil
}

// CountCheckedIn counts an event's redeemed tickets
func (r *TicketRepository) CountCheckedIn(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Ticket{}).
		Where("event_id = ? AND checked_in = ?", eventID, true).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count checked-in tickets")
	}
	return count, nil
}

// TypeCount is one row of the per-type sold breakdown
type TypeCount struct {
	TicketType models.TicketType `json:"ticket_type"`
	Count      int64             `json:"count"`
}

// SoldBreakdownByType groups an event's completed tickets by type
func (r *TicketRepository) SoldBreakdownByType(ctx context.Context, eventID uuid.UUID) ([]TypeCount, error) {
	var rows []TypeCount
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Ticket{}).
		Select("ticket_type, COUNT(id) AS count").
		Where("event_id = ? AND payment_status = ?", eventID, models.PaymentCompleted).
		Group("ticket_type").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute ticket type breakdown")
	}
	return rows, nil
}

// ListForUser returns a user's tickets, optionally narrowed to one event
func (r *TicketRepository) ListForUser(ctx context.Context, userID uuid.UUID, eventID *uuid.UUID) ([]models.Ticket, error) {
	q := r.readOnlyDB.WithContext(ctx).Where("user_id = ?", userID)
	if eventID != nil {
		q = q.Where("event_id = ?", *eventID)
	}
	var tickets []models.Ticket
	if err := q.Order("created_at DESC").Find(&tickets).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list tickets for user")
	}
	return tickets, nil
}

// ListAttendees returns the completed tickets for an event with the
// holder preloaded
func (r *TicketRepository) ListAttendees(ctx context.Context, eventID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.readOnlyDB.WithContext(ctx).
		Preload("User").
		Where("event_id = ? AND payment_status = ?", eventID, models.PaymentCompleted).
		Find(&tickets).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list attendees")
	}
	return tickets, nil
}

// PaymentRepository provides access to payment data
type PaymentRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB, readOnlyDB *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new payment
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// GetByReference gets a payment by its gateway reference
func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.readOnlyDB.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get payment by reference")
	}
	return &payment, nil
}

// Delete hard-deletes a payment. Used to clean up the record of an
// attempt the gateway never accepted.
func (r *PaymentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Unscoped().Delete(&models.Payment{}, "id = ?", id).Error
}

// ListForUser returns a user's payments, newest first
func (r *PaymentRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.readOnlyDB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list payments for user")
	}
	return payments, nil
}

// ListPendingOlderThan returns pending payments created before the
// cutoff, for the worker's reconciliation sweep
func (r *PaymentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending payments")
	}
	return payments, nil
}

// UserRepository provides access to user data
type UserRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB, readOnlyDB *gorm.DB) *UserRepository {
	return &UserRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.readOnlyDB.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user by ID")
	}
	return &user, nil
}

// OrganizerRequestRepository provides access to organizer-role requests
type OrganizerRequestRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewOrganizerRequestRepository creates a new repository
func NewOrganizerRequestRepository(db *gorm.DB, readOnlyDB *gorm.DB) *OrganizerRequestRepository {
	return &OrganizerRequestRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new organizer request
func (r *OrganizerRequestRepository) Create(ctx context.Context, request *models.OrganizerRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// GetByID gets an organizer request by ID
func (r *OrganizerRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OrganizerRequest, error) {
	var request models.OrganizerRequest
	err := r.readOnlyDB.WithContext(ctx).First(&request, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get organizer request by ID")
	}
	return &request, nil
}

// LatestForUser returns the user's most recent request
func (r *OrganizerRequestRepository) LatestForUser(ctx context.Context, userID uuid.UUID) (*models.OrganizerRequest, error) {
	var request models.OrganizerRequest
	err := r.readOnlyDB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&request).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest organizer request")
	}
	return &request, nil
}

// ListPending returns all requests awaiting review, with the
// requester preloaded
func (r *OrganizerRequestRepository) ListPending(ctx context.Context) ([]models.OrganizerRequest, error) {
	var requests []models.OrganizerRequest
	err := r.readOnlyDB.WithContext(ctx).
		Preload("User").
		Where("status = ?", models.RequestPending).
		Order("created_at ASC").
		Find(&requests).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending organizer requests")
	}
	return requests, nil
}
