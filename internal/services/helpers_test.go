package services

import (
	"testing"
	"time"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/metrics"
	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/tracing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database. A single connection
// keeps every query on the same in-memory store.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.SetupModels(db))
	return db
}

func newTestTracer(t *testing.T) tracing.Tracer {
	t.Helper()
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	return tracer
}

func newEventService(t *testing.T, db *gorm.DB) *EventService {
	t.Helper()
	return NewEventService(db, db, nil, nil, metrics.NewMetrics(), newTestTracer(t))
}

func newTicketService(t *testing.T, db *gorm.DB) *TicketService {
	t.Helper()
	return NewTicketService(db, db, nil, metrics.NewMetrics(), newTestTracer(t))
}

func newUserService(t *testing.T, db *gorm.DB) *UserService {
	t.Helper()
	return NewUserService(db, db, newTestTracer(t))
}

func createUser(t *testing.T, db *gorm.DB, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{
		ID:        uuid.New(),
		Email:     uuid.New().String() + "@example.com",
		FirstName: "Ada",
		LastName:  "Okafor",
		Role:      role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createEvent(t *testing.T, db *gorm.DB, organizer *models.User, status models.EventStatus, capacity int, price string) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:           uuid.New(),
		Title:        "Lagos Tech Meetup",
		Description:  "An evening of talks",
		OrganizerID:  organizer.ID,
		Location:     "Landmark Centre",
		StartDate:    time.Now().Add(48 * time.Hour),
		EndDate:      time.Now().Add(54 * time.Hour),
		Category:     "technology",
		MaxAttendees: capacity,
		TicketPrice:  decimal.RequireFromString(price),
		Status:       status,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

func createTicket(t *testing.T, db *gorm.DB, event *models.Event, holder *models.User, paymentStatus models.PaymentStatus) *models.Ticket {
	t.Helper()
	id := uuid.New()
	ticket := &models.Ticket{
		ID:            id,
		EventID:       event.ID,
		UserID:        holder.ID,
		TicketNumber:  newTicketNumber(),
		QRPayload:     id.String(),
		TicketType:    models.TicketStandard,
		PricePaid:     event.TicketPrice,
		PaymentStatus: paymentStatus,
	}
	require.NoError(t, db.Create(ticket).Error)
	return ticket
}
