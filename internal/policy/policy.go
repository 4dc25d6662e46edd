// Package policy holds the authorization rules as plain functions so
// they stay testable without HTTP scaffolding.
package policy

import (
	"example.com/eventhub/internal/models"
)

// CanCreateEvent reports whether the actor may create events.
func CanCreateEvent(actor *models.User) bool {
	return actor != nil && (actor.IsAdmin() || actor.IsOrganizer())
}

// CanManageEvent reports whether the actor may mutate the event.
// Admin override does not take ownership.
func CanManageEvent(actor *models.User, event *models.Event) bool {
	if actor == nil {
		return false
	}
	return actor.IsAdmin() || event.OrganizerID == actor.ID
}

// CanPublish is CanManageEvent under a name the publish path reads
// naturally with.
func CanPublish(actor *models.User, event *models.Event) bool {
	return CanManageEvent(actor, event)
}

// CanViewStatistics reports whether the actor may read event stats and
// attendee lists.
func CanViewStatistics(actor *models.User, event *models.Event) bool {
	return CanManageEvent(actor, event)
}

// CanCheckIn reports whether the actor may redeem or verify tickets
// for the event: admins, or the organizer who owns the event.
func CanCheckIn(actor *models.User, event *models.Event) bool {
	if actor == nil {
		return false
	}
	return actor.IsAdmin() || (actor.IsOrganizer() && event.OrganizerID == actor.ID)
}

// CanReviewOrganizerRequests reports whether the actor may list and
// review organizer-role applications.
func CanReviewOrganizerRequests(actor *models.User) bool {
	return actor != nil && actor.IsAdmin()
}
