package enums

// DeadLetterReason is written to outbox_dlq.error_reason.
type DeadLetterReason string

const (
	// DeadLetterExhausted: the row failed on every allowed attempt.
	DeadLetterExhausted DeadLetterReason = "max_attempts"
	// DeadLetterRejected: the event can never be published as stored.
	DeadLetterRejected DeadLetterReason = "non_retryable"
)

var deadLetterReasons = newSet("dead letter reason", DeadLetterExhausted, DeadLetterRejected)

func (r DeadLetterReason) IsValid() bool { return deadLetterReasons.has(r) }
