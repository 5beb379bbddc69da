package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
	"github.com/angelmondragon/medrun-backend/pkg/outbox"
)

// Actor is the caller of a core operation, resolved from a token or set by background jobs.
type Actor struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	FacilityID *uuid.UUID
}

// SystemActor is used by consumers and scheduled jobs.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// ActorFromClaims converts verified token claims.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role, FacilityID: claims.FacilityID}
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == enums.ActorRoleSystem
}

// Privileged reports whether the actor bypasses ownership checks.
func (a Actor) Privileged() bool {
	return a.IsAdmin() || a.IsSystem()
}

// OwnsFacility reports whether the actor is staff of the given facility.
func (a Actor) OwnsFacility(facilityID uuid.UUID) bool {
	return a.Role == enums.ActorRoleFacility && a.FacilityID != nil && *a.FacilityID == facilityID
}

// Ref converts the actor for outbox envelopes.
func (a Actor) Ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, FacilityID: a.FacilityID, Role: a.Role}
}
