package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	FacilityID *uuid.UUID
	JTI        string
}

// AccessTokenClaims is the token callers present. FacilityID is set for
// facility staff and scopes their actions to that facility.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	Role       enums.ActorRole `json:"role"`
	FacilityID *uuid.UUID      `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass; the jwt parser calls it.
func (c AccessTokenClaims) Validate() error {
	return checkIdentity(c.UserID, c.Role, c.FacilityID)
}

func checkIdentity(userID uuid.UUID, role enums.ActorRole, facilityID *uuid.UUID) error {
	switch {
	case userID == uuid.Nil:
		return errors.New("user_id is required")
	case !role.IsValid():
		return fmt.Errorf("role %q is not accepted on tokens", role)
	case role == enums.ActorRoleFacility && (facilityID == nil || *facilityID == uuid.Nil):
		return errors.New("facility role requires facility_id")
	}
	return nil
}
