package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/medrun-backend/api/responses"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/medrun-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"

	shortReplayTTL = 24 * time.Hour
	longReplayTTL  = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL = 2 * time.Minute
)

// idempotencyRule covers POSTs to pattern, where a {param} segment matches
// any single path segment. Required rules reject requests without a key.
type idempotencyRule struct {
	pattern  string
	ttl      time.Duration
	required bool
}

var idempotencyRules = []idempotencyRule{
	{pattern: "/api/v1/orders", ttl: longReplayTTL, required: true},
	{pattern: "/api/v1/orders/{id}/payments", ttl: longReplayTTL, required: true},
	{pattern: "/api/v1/cart/checkout", ttl: longReplayTTL, required: true},
	{pattern: "/api/v1/deliveries/{id}/accept", ttl: longReplayTTL, required: true},
	{pattern: "/api/v1/payments/{id}/refund", ttl: longReplayTTL, required: true},

	{pattern: "/api/v1/orders/{id}/cancel", ttl: shortReplayTTL},
	{pattern: "/api/v1/orders/{id}/advance", ttl: shortReplayTTL},
	{pattern: "/api/v1/orders/{id}/delivery/offer", ttl: shortReplayTTL},
	{pattern: "/api/v1/deliveries/{id}/fail", ttl: shortReplayTTL},
	{pattern: "/api/v1/inventory/items", ttl: shortReplayTTL},
	{pattern: "/api/v1/inventory/items/{id}/restock", ttl: shortReplayTTL},
}

const (
	slotInFlight = "in_flight"
	slotDone     = "done"
)

// slot is what Redis holds under one idempotency key. It is claimed as
// in_flight before the handler runs and replaced with the response after.
type slot struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the stored response when a write is retried with the
// same key and body. Concurrent duplicates get 409 while the first is in
// flight. 5xx responses free the key so the caller can retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				if rule.required {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := hashBody(body)
			redisKey := store.IdempotencyKey(requestScope(r), clientKey)

			claimed, err := claimSlot(ctx, store, redisKey, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, logg, w, redisKey, hash)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r.WithContext(WithIdempotencyKey(ctx, clientKey)))

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, redisKey); err != nil {
					logError(ctx, logg, "release idempotency key", err)
				}
				return
			}
			done, err := json.Marshal(slot{
				State:       slotDone,
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				err = store.Set(ctx, redisKey, string(done), rule.ttl)
			}
			if err != nil {
				logError(ctx, logg, "store idempotent response", err)
			}
		})
	}
}

func claimSlot(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	pending, err := json.Marshal(slot{State: slotInFlight, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(pending), inFlightTTL)
}

func replayOrReject(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, w http.ResponseWriter, key, hash string) {
	raw, err := store.Get(ctx, key)
	if pkgredis.IsNil(err) {
		// The holder finished with a 5xx or its claim expired between our calls.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency key"))
		return
	}
	var held slot
	if err := json.Unmarshal([]byte(raw), &held); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case held.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case held.State != slotDone:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if held.ContentType != "" {
			w.Header().Set("Content-Type", held.ContentType)
		}
		w.Header().Set(replayHeader, "true")
		w.WriteHeader(held.Status)
		_, _ = w.Write(held.Body)
	}
}

const ctxIdempotencyKey contextKey = "idempotency_key"

// WithIdempotencyKey exposes the client key to handlers that forward it to the gateway.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxIdempotencyKey, key)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxIdempotencyKey).(string)
	return v
}

// requestScope keeps keys from colliding across callers and endpoints.
func requestScope(r *http.Request) string {
	ctx := r.Context()
	return strings.Join([]string{UserIDFromContext(ctx), FacilityIDFromContext(ctx), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func matchRule(method, path string) (idempotencyRule, bool) {
	if method != http.MethodPost {
		return idempotencyRule{}, false
	}
	path = strings.TrimSuffix(path, "/")
	for _, rule := range idempotencyRules {
		if matchPattern(rule.pattern, path) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

func matchPattern(pattern, path string) bool {
	want := strings.Split(pattern, "/")
	got := strings.Split(path, "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
