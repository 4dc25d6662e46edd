package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UserRole is the role claim attached to every actor.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleOrganizer UserRole = "ORGANIZER"
	RoleAttendee  UserRole = "ATTENDEE"
)

// EventStatus is the event lifecycle state.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCompleted EventStatus = "COMPLETED"
	EventCancelled EventStatus = "CANCELLED"
)

// Terminal reports whether no further status change is allowed.
func (s EventStatus) Terminal() bool {
	return s == EventCompleted || s == EventCancelled
}

// TicketType is the class of ticket sold for an event.
type TicketType string

const (
	TicketStandard  TicketType = "STANDARD"
	TicketVIP       TicketType = "VIP"
	TicketEarlyBird TicketType = "EARLY_BIRD"
)

// ValidTicketType reports whether t is one of the known ticket types.
func ValidTicketType(t TicketType) bool {
	switch t {
	case TicketStandard, TicketVIP, TicketEarlyBird:
		return true
	}
	return false
}

// PaymentStatus is shared by tickets and payments.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// RequestStatus is the organizer-request review state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// User represents an authenticated identity. The identity provider is
// trusted for the role claim; this service never authenticates.
type User struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Email          string         `gorm:"not null;uniqueIndex" json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Role           UserRole       `gorm:"type:varchar(20);not null;default:'ATTENDEE'" json:"role"`
	ProfilePicture *string        `json:"profile_picture"`
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsOrganizer reports whether the user carries the organizer role.
func (u *User) IsOrganizer() bool { return u.Role == RoleOrganizer }

// Event is organizer-owned and gates ticket issuance through its
// status. Status moves Draft -> Published only; Completed and
// Cancelled are terminal.
type Event struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
	Title        string          `gorm:"not null" json:"title"`
	Description  string          `json:"description"`
	OrganizerID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"organizer_id"`
	Location     string          `json:"location"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Category     string          `json:"category"`
	BannerImage  *string         `json:"banner_image"`
	MaxAttendees int             `gorm:"not null;default:100" json:"max_attendees"`
	TicketPrice  decimal.Decimal `gorm:"type:decimal(10,2)" json:"ticket_price"`
	Status       EventStatus     `gorm:"type:varchar(20);not null;default:'DRAFT'" json:"status"`
	Organizer    User            `gorm:"foreignKey:OrganizerID" json:"-"`
	Tickets      []Ticket        `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"-"`
}

// Ticket is a single admission for one user to one event. PricePaid is
// snapshotted from the event at purchase time and never re-derived.
type Ticket struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
	EventID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"event_id"`
	UserID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	TicketNumber  string          `gorm:"not null;uniqueIndex" json:"ticket_number"`
	QRPayload     string          `gorm:"column:qr_payload" json:"qr_payload"`
	TicketType    TicketType      `gorm:"type:varchar(20);not null;default:'STANDARD'" json:"ticket_type"`
	PricePaid     decimal.Decimal `gorm:"type:decimal(10,2)" json:"price_paid"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(20);not null;default:'PENDING'" json:"payment_status"`
	CheckedIn     bool            `gorm:"not null;default:false" json:"checked_in"`
	CheckedInTime *time.Time      `json:"checked_in_time"`
	CustomImage   *string         `json:"custom_image"`
	Event         Event           `gorm:"foreignKey:EventID" json:"-"`
	User          User            `gorm:"foreignKey:UserID" json:"-"`
	Payments      []Payment       `gorm:"foreignKey:TicketID" json:"-"`
}

// Payment is one charge attempt against a ticket. Reference is issued
// once per attempt and never reused; TransactionID stays nil until the
// gateway confirms the charge.
type Payment struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
	UserID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	TicketID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"ticket_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`
	PaymentMethod string          `gorm:"not null;default:'card'" json:"payment_method"`
	TransactionID *string         `json:"transaction_id"`
	Status        PaymentStatus   `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	Reference     string          `gorm:"not null;uniqueIndex" json:"reference"`
	User          User            `gorm:"foreignKey:UserID" json:"-"`
	Ticket        Ticket          `gorm:"foreignKey:TicketID" json:"-"`
}

// OrganizerRequest is an attendee's application for the organizer
// role. Review is one-way: Pending -> Approved or Rejected.
type OrganizerRequest struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	OrgName        string         `gorm:"column:organization_name;not null" json:"organization_name"`
	OrgDescription string         `gorm:"column:organization_description" json:"organization_description"`
	Reason         string         `gorm:"column:reason_for_request" json:"reason_for_request"`
	Status         RequestStatus  `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	AdminNotes     *string        `json:"admin_notes"`
	User           User           `gorm:"foreignKey:UserID" json:"-"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	// Apply all migrations
	err := db.AutoMigrate(
		&User{},
		&Event{},
		&Ticket{},
		&Payment{},
		&OrganizerRequest{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
