package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/enums"
)

// EnvelopeVersion is the newest envelope layout this build writes and reads.
const EnvelopeVersion = 1

// ErrMalformedEnvelope marks a message body no consumer can process.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// ActorRef is who caused the event; system jobs carry only a role.
type ActorRef struct {
	UserID     uuid.UUID       `json:"userId"`
	FacilityID *uuid.UUID      `json:"facilityId,omitempty"`
	Role       enums.ActorRole `json:"role,omitempty"`
}

// PayloadEnvelope is stored in outbox_events.payload and published verbatim.
// EventID equals the outbox row id.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// HasData is false for an absent or JSON null data field.
func (e PayloadEnvelope) HasData() bool {
	data := bytes.TrimSpace(e.Data)
	return len(data) > 0 && !bytes.Equal(data, []byte("null"))
}

// DecodeEnvelope parses a message body and checks its version and event id.
func DecodeEnvelope(body []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, env.Version)
	}
	if _, err := uuid.Parse(env.EventID); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: event id %q", ErrMalformedEnvelope, env.EventID)
	}
	return env, nil
}
