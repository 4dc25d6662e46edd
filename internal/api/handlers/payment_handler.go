package handlers

import (
	"io"
	"net/http"

	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PaymentHandler handles payment-related HTTP requests
type PaymentHandler struct {
	paymentService *services.PaymentService
	tracer         tracing.Tracer
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService *services.PaymentService, tracer tracing.Tracer) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		tracer:         tracer,
	}
}

// RegisterRoutes wires the payment endpoints. The verify callback and
// the webhook are reached by the gateway, not by authenticated users.
func (h *PaymentHandler) RegisterRoutes(public, private *gin.RouterGroup) {
	public.GET("/payments/verify/:reference", h.HandleVerify)
	public.POST("/payments/webhook", h.HandleWebhook)

	private.POST("/tickets/:id/pay", h.HandleInitiate)
	private.GET("/payments", h.HandleHistory)
}

// HandleInitiate starts a charge for the caller's ticket and returns
// the gateway redirect
func (h *PaymentHandler) HandleInitiate(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-initiate-payment")
	defer h.tracer.EndTransaction(txn)

	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	result, err := h.paymentService.Initiate(c.Request.Context(), CurrentUser(c), ticketID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleVerify settles one reference against the gateway. The buyer
// lands here after checkout; repeat calls are safe.
func (h *PaymentHandler) HandleVerify(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-verify-payment")
	defer h.tracer.EndTransaction(txn)

	reference := c.Param("reference")
	payment, err := h.paymentService.Verify(c.Request.Context(), reference)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// HandleWebhook receives gateway notifications. The raw body is needed
// for signature verification, so binding happens in the service.
func (h *PaymentHandler) HandleWebhook(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-payment-webhook")
	defer h.tracer.EndTransaction(txn)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.paymentService.HandleWebhook(c.Request.Context(), body, c.GetHeader("x-paystack-signature"))
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleHistory lists the caller's payments
func (h *PaymentHandler) HandleHistory(c *gin.Context) {
	payments, err := h.paymentService.History(c.Request.Context(), CurrentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}
