package types

// Envelope is the body of every successful JSON response.
type Envelope[T any] struct {
	Data T `json:"data"`
}

// Problem is the client-visible description of a failed request.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ProblemEnvelope is the body of every error response.
type ProblemEnvelope struct {
	Error Problem `json:"error"`
}
