package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "fake:" + scope + ":" + id
}

func postWithKey(path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestMatchRuleSelection(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		ttl      time.Duration
		required bool
		ok       bool
	}{
		{"create order", http.MethodPost, "/api/v1/orders", longReplayTTL, true, true},
		{"initiate payment", http.MethodPost, "/api/v1/orders/123/payments", longReplayTTL, true, true},
		{"checkout trailing slash", http.MethodPost, "/api/v1/cart/checkout/", longReplayTTL, true, true},
		{"accept delivery", http.MethodPost, "/api/v1/deliveries/abc/accept", longReplayTTL, true, true},
		{"refund", http.MethodPost, "/api/v1/payments/p1/refund", longReplayTTL, true, true},
		{"cancel order", http.MethodPost, "/api/v1/orders/456/cancel", shortReplayTTL, false, true},
		{"offer delivery", http.MethodPost, "/api/v1/orders/456/delivery/offer", shortReplayTTL, false, true},
		{"restock", http.MethodPost, "/api/v1/inventory/items/9/restock", shortReplayTTL, false, true},
		{"list orders", http.MethodGet, "/api/v1/orders", 0, false, false},
		{"status update", http.MethodPost, "/api/v1/deliveries/abc/status", 0, false, false},
		{"empty param", http.MethodPost, "/api/v1/orders//cancel", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := matchRule(tt.method, tt.path)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.ttl, rule.ttl)
				assert.Equal(t, tt.required, rule.required)
			}
		})
	}
}

func TestIdempotencyRequiresHeaderOnCriticalRoutes(t *testing.T) {
	called := false
	h := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithKey("/api/v1/orders", "", `{"foo":"bar"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestIdempotencyOptionalHeaderPassesThrough(t *testing.T) {
	store := newFakeStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), postWithKey("/api/v1/orders/1/cancel", "", `{}`))
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	var seenKey string
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seenKey = IdempotencyKeyFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postWithKey("/api/v1/orders", "abc", `{"foo":"bar"}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "abc", seenKey)
	for _, ttl := range store.ttls {
		assert.Equal(t, longReplayTTL, ttl)
	}

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, postWithKey("/api/v1/orders", "abc", `{"foo":"bar"}`))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(replayHeader))
	assert.JSONEq(t, `{"ok":true}`, replay.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsDuplicateWhileInFlight(t *testing.T) {
	store := newFakeStore()
	var inner *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = httptest.NewRecorder()
			h.ServeHTTP(inner, postWithKey("/api/v1/deliveries/d1/accept", "k1", `{}`))
		}
		w.WriteHeader(http.StatusOK)
	}))

	outer := httptest.NewRecorder()
	h.ServeHTTP(outer, postWithKey("/api/v1/deliveries/d1/accept", "k1", `{}`))

	assert.Equal(t, http.StatusOK, outer.Code)
	require.NotNil(t, inner)
	assert.Equal(t, http.StatusConflict, inner.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, inner))
}

func TestIdempotencyFreesKeyAfterServerError(t *testing.T) {
	store := newFakeStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), postWithKey("/api/v1/orders/1/payments", "retry-me", `{"method":"card"}`))
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	h := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), postWithKey("/api/v1/cart/checkout", "xyz", `{"foo":"bar"}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithKey("/api/v1/cart/checkout", "xyz", `{"foo":"diff"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}
