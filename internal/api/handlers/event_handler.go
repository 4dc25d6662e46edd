package handlers

import (
	"net/http"
	"time"

	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/repositories"
	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventHandler handles event-related HTTP requests
type EventHandler struct {
	eventService *services.EventService
	tracer       tracing.Tracer
}

// NewEventHandler creates a new event handler
func NewEventHandler(eventService *services.EventService, tracer tracing.Tracer) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		tracer:       tracer,
	}
}

// RegisterRoutes wires the event endpoints. Listing and retrieval are
// open; everything that mutates requires an actor.
func (h *EventHandler) RegisterRoutes(public, private *gin.RouterGroup) {
	public.GET("/events", h.HandleList)
	public.GET("/events/:id", h.HandleGet)

	private.POST("/events", h.HandleCreate)
	private.GET("/my/events", h.HandleMyEvents)
	private.PATCH("/events/:id", h.HandleUpdate)
	private.POST("/events/:id/publish", h.HandlePublish)
	private.POST("/events/:id/cancel", h.HandleCancel)
	private.GET("/events/:id/statistics", h.HandleStatistics)
	private.GET("/events/:id/attendees", h.HandleAttendees)
}

// EventRequest represents an incoming create-event request
type EventRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Category     string          `json:"category"`
	MaxAttendees int             `json:"max_attendees"`
	TicketPrice  decimal.Decimal `json:"ticket_price"`
	BannerImage  *string         `json:"banner_image"`
}

// EventUpdateRequest represents a partial event update; absent fields
// are left untouched
type EventUpdateRequest struct {
	Title        *string             `json:"title"`
	Description  *string             `json:"description"`
	Location     *string             `json:"location"`
	StartDate    *time.Time          `json:"start_date"`
	EndDate      *time.Time          `json:"end_date"`
	Category     *string             `json:"category"`
	MaxAttendees *int                `json:"max_attendees"`
	TicketPrice  *decimal.Decimal    `json:"ticket_price"`
	BannerImage  *string             `json:"banner_image"`
	Status       *models.EventStatus `json:"status"`
}

// HandleCreate creates a draft event owned by the caller
func (h *EventHandler) HandleCreate(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-event")
	defer h.tracer.EndTransaction(txn)

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.eventService.Create(c.Request.Context(), CurrentUser(c), services.EventInput{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Category:     req.Category,
		MaxAttendees: req.MaxAttendees,
		TicketPrice:  req.TicketPrice,
		BannerImage:  req.BannerImage,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// HandleUpdate applies a partial update to a draft event
func (h *EventHandler) HandleUpdate(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-update-event")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req EventUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.eventService.Update(c.Request.Context(), CurrentUser(c), id, services.EventUpdate{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Category:     req.Category,
		MaxAttendees: req.MaxAttendees,
		TicketPrice:  req.TicketPrice,
		BannerImage:  req.BannerImage,
		Status:       req.Status,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandlePublish moves a draft event to Published
func (h *EventHandler) HandlePublish(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-publish-event")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.eventService.Publish(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleCancel moves an event to its terminal Cancelled state
func (h *EventHandler) HandleCancel(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-cancel-event")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.eventService.Cancel(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleGet returns one event, subject to visibility rules
func (h *EventHandler) HandleGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.eventService.Get(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleList returns events visible to the caller, filtered by query
// parameters
func (h *EventHandler) HandleList(c *gin.Context) {
	filter := repositories.EventFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Status:   models.EventStatus(c.Query("status")),
		OrderBy:  c.Query("order_by"),
	}
	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, expected RFC3339"})
			return
		}
		filter.StartDate = &t
	}

	events, err := h.eventService.List(c.Request.Context(), CurrentUser(c), filter)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// HandleMyEvents returns the caller's own events
func (h *EventHandler) HandleMyEvents(c *gin.Context) {
	events, err := h.eventService.MyEvents(c.Request.Context(), CurrentUser(c), models.EventStatus(c.Query("status")))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// HandleStatistics returns the ticketing dashboard numbers for one
// event
func (h *EventHandler) HandleStatistics(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-event-statistics")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	stats, err := h.eventService.Statistics(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleAttendees lists tickets sold for an event with their holders
func (h *EventHandler) HandleAttendees(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	tickets, err := h.eventService.Attendees(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attendees": tickets, "count": len(tickets)})
}
