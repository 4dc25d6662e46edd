package handlers

import (
	"net/http"

	"example.com/eventhub/internal/models"
	"example.com/eventhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const actorContextKey = "actor"

// Identity headers set by the authenticating reverse proxy. The proxy
// strips them from outside traffic, so their presence is trusted here.
const (
	headerUserID        = "X-User-ID"
	headerUserEmail     = "X-User-Email"
	headerUserFirstName = "X-User-First-Name"
	headerUserLastName  = "X-User-Last-Name"
)

// Identity resolves the acting user from the proxy headers and loads
// the local row, provisioning an attendee on first sight. Requests
// without identity headers pass through anonymous.
func Identity(userService *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerUserID)
		if raw == "" {
			c.Next()
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
			return
		}

		user, err := userService.EnsureUser(c.Request.Context(), id,
			c.GetHeader(headerUserEmail),
			c.GetHeader(headerUserFirstName),
			c.GetHeader(headerUserLastName),
		)
		if err != nil {
			log.Error().Err(err).Str("user_id", raw).Msg("Failed to resolve user identity")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Set(actorContextKey, user)
		c.Next()
	}
}

// RequireUser rejects anonymous requests.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(actorContextKey); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the resolved actor, or nil for anonymous
// requests.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}
