package handlers

import (
	"net/http"

	"example.com/eventhub/internal/services"
	"example.com/eventhub/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserHandler handles profile and organizer-request HTTP requests
type UserHandler struct {
	userService *services.UserService
	tracer      tracing.Tracer
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService, tracer tracing.Tracer) *UserHandler {
	return &UserHandler{
		userService: userService,
		tracer:      tracer,
	}
}

// RegisterRoutes wires the profile and organizer-request endpoints.
func (h *UserHandler) RegisterRoutes(private *gin.RouterGroup) {
	private.GET("/me", h.HandleMe)
	private.POST("/organizer-requests", h.HandleRequestOrganizerRole)
	private.GET("/my/organizer-requests", h.HandleMyRequest)
	private.GET("/organizer-requests", h.HandleListPending)
	private.POST("/organizer-requests/:id/review", h.HandleReview)
}

// HandleMe returns the caller's profile
func (h *UserHandler) HandleMe(c *gin.Context) {
	c.JSON(http.StatusOK, CurrentUser(c))
}

// HandleRequestOrganizerRole files an organizer application for the
// caller
func (h *UserHandler) HandleRequestOrganizerRole(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-request-organizer-role")
	defer h.tracer.EndTransaction(txn)

	var req services.OrganizerRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.userService.RequestOrganizerRole(c.Request.Context(), CurrentUser(c), req)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, request)
}

// HandleMyRequest returns the caller's latest organizer application
func (h *UserHandler) HandleMyRequest(c *gin.Context) {
	request, err := h.userService.MyOrganizerRequest(c.Request.Context(), CurrentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, request)
}

// HandleListPending returns the admin review queue
func (h *UserHandler) HandleListPending(c *gin.Context) {
	requests, err := h.userService.ListPendingRequests(c.Request.Context(), CurrentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// ReviewRequest represents an admin's verdict on an organizer
// application
type ReviewRequest struct {
	Approve    bool    `json:"approve"`
	AdminNotes *string `json:"admin_notes"`
}

// HandleReview settles a pending organizer application
func (h *UserHandler) HandleReview(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-review-organizer-request")
	defer h.tracer.EndTransaction(txn)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.userService.ReviewOrganizerRequest(c.Request.Context(), CurrentUser(c), id, req.Approve, req.AdminNotes)
	if err != nil {
		h.tracer.RecordError(txn, err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, request)
}
