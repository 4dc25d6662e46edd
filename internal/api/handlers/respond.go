package handlers

import (
	"errors"
	"net/http"

	"example.com/eventhub/internal/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RespondError translates a service error into the HTTP response. The
// kind drives the status code; internals never leak to the caller.
func RespondError(c *gin.Context, err error) {
	kind := apperrors.Kind(err)

	body := gin.H{"kind": kind, "error": err.Error()}

	var ve *apperrors.ValidationError
	var sc *apperrors.StateConflictError
	switch {
	case errors.As(err, &ve):
		body["fields"] = ve.Fields
	case errors.As(err, &sc):
		body["reason"] = sc.Reason
	}

	status := http.StatusInternalServerError
	switch kind {
	case "validation_error", "verification_failed":
		status = http.StatusBadRequest
	case "permission_denied":
		status = http.StatusForbidden
	case "not_found":
		status = http.StatusNotFound
	case "state_conflict":
		status = http.StatusConflict
	case "gateway_unavailable":
		status = http.StatusBadGateway
	case "internal":
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Msg("Unhandled error")
		body["error"] = "internal server error"
	}

	c.JSON(status, body)
}
