// Package responses renders the JSON envelopes shared by every handler.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/types"
)

// requestIDHeader mirrors the header set by the request id middleware.
const requestIDHeader = "X-Request-Id"

var errUnknown = errors.New("unknown error")

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.Envelope[any]{Data: data})
}

// WriteError renders err as a ProblemEnvelope. Errors without a code become
// INTERNAL_ERROR and keep their text out of the response. Client errors log
// at warn and server errors at error.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errUnknown
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	problem := types.Problem{
		Code:      string(typed.Code()),
		Message:   publicMessage(typed, meta),
		Retryable: meta.Retryable,
		RequestID: w.Header().Get(requestIDHeader),
	}
	if meta.DetailsAllowed {
		problem.Details = typed.Details()
	}

	logFailure(ctx, logg, err, typed.Code(), meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, types.ProblemEnvelope{Error: problem})
}

// publicMessage hides the service's own message for server-side failures.
func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if meta.HTTPStatus >= http.StatusInternalServerError && typed.Code() != pkgerrors.CodeGatewayTimeout {
		return meta.PublicMessage
	}
	if msg := typed.Message(); msg != "" {
		return msg
	}
	return meta.PublicMessage
}

func logFailure(ctx context.Context, logg *logger.Logger, err error, code pkgerrors.Code, status int) {
	if logg == nil {
		return
	}
	dump := pkgerrors.Dump(err)
	fields := dump.Postgres.Fields()
	if fields == nil {
		fields = make(map[string]any, 4)
	}
	fields["error"] = dump.TopMessage
	fields["error_code"] = code
	fields["error_chain"] = dump.Chain
	fields["http_status"] = status

	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
