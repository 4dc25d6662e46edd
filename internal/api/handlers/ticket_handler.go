package handlers

import (
	"net/http"

	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TicketHandler handles ticket-related HTTP requests
type TicketHandler struct {
	ticketService *services.TicketService
	tracer        tracing.Tracer
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(ticketService *services.TicketService, tracer tracing.Tracer) *TicketHandler {
	return &TicketHandler{
		ticketService: ticketService,
		tracer:        tracer,
	}
}

// RegisterRoutes wires the ticket endpoints; all of them require an
// actor.
func (h *TicketHandler) RegisterRoutes(private *gin.RouterGroup) {
	private.POST("/events/:id/tickets", h.HandlePurchase)
	private.GET("/tickets", h.HandleMyTickets)
	private.GET("/tickets/:id", h.HandleGet)
	private.GET("/tickets/:id/verify", h.HandleVerify)
	private.POST("/tickets/:id/check-in", h.HandleCheckIn)
}

// PurchaseRequest represents an incoming ticket purchase request
type PurchaseRequest struct {
	TicketType  models.TicketType `json:"ticket_type"`
	CustomImage *string           `json:"custom_image"`
}

// HandlePurchase reserves a ticket for the caller against an event
func (h *TicketHandler) HandlePurchase(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-purchase-ticket")
	defer h.tracer.EndTransaction(txn)

	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	// An empty body means a standard ticket
	var req PurchaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ticket, err := h.ticketService.Purchase(c.Request.Context(), CurrentUser(c), eventID, req.TicketType, req.CustomImage)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// HandleMyTickets lists the caller's tickets, optionally scoped to one
// event via ?event_id=
func (h *TicketHandler) HandleMyTickets(c *gin.Context) {
	var eventID *uuid.UUID
	if raw := c.Query("event_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
		eventID = &id
	}

	tickets, err := h.ticketService.MyTickets(c.Request.Context(), CurrentUser(c), eventID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

// HandleGet returns one ticket
func (h *TicketHandler) HandleGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	ticket, err := h.ticketService.GetTicket(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// HandleVerify returns the venue-side preview without redeeming the
// ticket
func (h *TicketHandler) HandleVerify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	preview, err := h.ticketService.VerifyTicket(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// HandleCheckIn redeems a ticket at the venue
func (h *TicketHandler) HandleCheckIn(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-check-in-ticket")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	ticket, err := h.ticketService.CheckIn(c.Request.Context(), CurrentUser(c), id)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ticket)
}
