package enums

// ActorRole identifies who is calling into the core.
type ActorRole string

const (
	ActorRoleBuyer    ActorRole = "buyer"
	ActorRoleFacility ActorRole = "facility"
	ActorRoleAgent    ActorRole = "agent"
	ActorRoleAdmin    ActorRole = "admin"
	// ActorRoleSystem is used by consumers and scheduled jobs. It is never accepted from a token.
	ActorRoleSystem ActorRole = "system"
)

var tokenRoles = newSet("actor role", ActorRoleBuyer, ActorRoleFacility, ActorRoleAgent, ActorRoleAdmin)

func (r ActorRole) String() string { return string(r) }

// IsValid reports whether the role may appear on an access token.
func (r ActorRole) IsValid() bool { return tokenRoles.has(r) }

func ParseActorRole(value string) (ActorRole, error) { return tokenRoles.parse(value) }
