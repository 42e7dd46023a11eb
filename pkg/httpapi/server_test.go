package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joripage/execution-gateway/config"
	"github.com/joripage/execution-gateway/pkg/gateway"
	"github.com/joripage/execution-gateway/pkg/gateway/broker"
	"github.com/joripage/execution-gateway/pkg/gateway/events"
	"github.com/joripage/execution-gateway/pkg/gateway/gate"
	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/reconcile"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
	"github.com/joripage/execution-gateway/pkg/gateway/reservation"
	"github.com/joripage/execution-gateway/pkg/gateway/webhook"
)

const (
	testAPIToken   = "trader-token"
	testAdminToken = "admin-token"
	testSecret     = "hook-secret"
)

type stubReserver struct{ seq int }

func (s *stubReserver) Reserve(ctx context.Context, symbol string, side model.OrderSide, qty, held, limit int64) (reservation.Token, bool, error) {
	s.seq++
	delta := qty
	if side == model.OrderSideSell {
		delta = -qty
	}
	return reservation.Token{Symbol: symbol, ID: fmt.Sprintf("t-%d", s.seq), Delta: delta}, true, nil
}

func (s *stubReserver) Release(ctx context.Context, token reservation.Token) error { return nil }

// stubRediser backs the kill-switch store for the admin endpoint tests.
type stubRediser struct {
	mu      sync.Mutex
	strings map[string]string
}

func (f *stubRediser) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *stubRediser) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *stubRediser) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.strings, k)
	}
	return redis.NewIntResult(1, nil)
}

func (f *stubRediser) SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd {
	return redis.NewBoolResult(false, nil)
}

func (f *stubRediser) Incr(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(1, nil)
}

func (f *stubRediser) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *stubRediser) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

type fixture struct {
	handler http.Handler
	store   *repo.MemoryRepo
	broker  *broker.PaperBroker
	ks      *gate.KillSwitchStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	ks := gate.NewKillSwitchStore(&stubRediser{strings: map[string]string{}})

	chains := gateway.Chains{
		Trading: gate.NewChain(),
		Slice:   gate.NewChain(),
		Cancel:  gate.NewChain(),
		Admin:   gate.NewChain(),
	}
	svc := gateway.NewService(gateway.ServiceConfig{
		Limits:    &config.LimitsConfig{DefaultPositionLimit: 10000},
		FatFinger: &config.FatFingerConfig{MaxOrderQty: 5000, MaxNotional: "10000000"},
	}, chains, &stubReserver{}, store, brk, events.NewNopEmitter(), ks)

	ingestor := webhook.NewIngestor(webhook.Config{Secret: testSecret, MaxSkew: 5 * time.Minute}, store, events.NewNopEmitter())
	engine := reconcile.NewEngine(reconcile.Config{}, store, brk, events.NewNopEmitter())

	srv := NewServer(&config.HTTPConfig{
		Addr:       ":0",
		APIToken:   testAPIToken,
		AdminToken: testAdminToken,
	}, svc, ingestor, engine)
	return &fixture{handler: srv.Handler(), store: store, broker: brk, ks: ks}
}

func (fx *fixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func orderBody(id string) map[string]interface{} {
	return map[string]interface{}{
		"client_order_id": id,
		"symbol":          "AAPL",
		"side":            "BUY",
		"type":            "LIMIT",
		"quantity":        "100",
		"price":           "150",
	}
}

func TestSubmitOrderEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do("POST", "/orders", testAPIToken, orderBody("c-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Order model.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c-1", resp.Order.ClientOrderID)
	assert.NotEmpty(t, resp.Order.BrokerOrderID)
}

func TestSubmitOrderRequiresToken(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do("POST", "/orders", "", orderBody("c-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do("POST", "/orders", "wrong", orderBody("c-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitOrderDuplicateReplays(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do("POST", "/orders", testAPIToken, orderBody("c-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = fx.do("POST", "/orders", testAPIToken, orderBody("c-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Order     model.Order `json:"order"`
		Duplicate bool        `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)
	assert.Equal(t, "c-1", resp.Order.ClientOrderID)
	assert.Equal(t, 1, fx.broker.SubmitCalls)
}

func TestSubmitOrderMalformedBody(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	fx := newFixture(t)

	require.Equal(t, http.StatusCreated, fx.do("POST", "/orders", testAPIToken, orderBody("c-1")).Code)

	rec := fx.do("POST", "/orders/c-1/cancel", testAPIToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Order model.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.OrderStatusCanceled, resp.Order.Status)
}

func TestGetOrderEndpoint(t *testing.T) {
	fx := newFixture(t)

	require.Equal(t, http.StatusCreated, fx.do("POST", "/orders", testAPIToken, orderBody("c-1")).Code)
	assert.Equal(t, http.StatusOK, fx.do("GET", "/orders/c-1", testAPIToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, fx.do("GET", "/orders/missing", testAPIToken, nil).Code)
}

func TestSliceEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do("POST", "/orders/slice", testAPIToken, map[string]interface{}{
		"client_order_id": "p-1",
		"symbol":          "AAPL",
		"side":            "BUY",
		"type":            "LIMIT",
		"quantity":        "100",
		"price":           "150",
		"slices":          4,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Orders []model.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Orders, 4)
}

func TestPositionsEndpoint(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.store.Position().ApplyDelta(context.Background(), "AAPL", decimal.NewFromInt(25)))

	rec := fx.do("GET", "/positions", testAPIToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Positions []model.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "AAPL", resp.Positions[0].Symbol)
}

func TestKillSwitchEndpoints(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Trader token cannot reach admin routes.
	rec := fx.do("POST", "/admin/kill-switch/engage", testAPIToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do("POST", "/admin/kill-switch/engage", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	engaged, err := fx.ks.Engaged(ctx)
	require.NoError(t, err)
	assert.True(t, engaged)

	rec = fx.do("POST", "/admin/kill-switch/disengage", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	engaged, err = fx.ks.Engaged(ctx)
	require.NoError(t, err)
	assert.False(t, engaged)
}

func signHook(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(fx *fixture, ev map[string]interface{}, sig func(ts string, body []byte) string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(ev)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest("POST", "/webhooks/orders", bytes.NewReader(body))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sig(ts, body))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEndpointApplied(t *testing.T) {
	fx := newFixture(t)
	require.Equal(t, http.StatusCreated, fx.do("POST", "/orders", testAPIToken, orderBody("c-1")).Code)

	rec := postWebhook(fx, map[string]interface{}{
		"event_id":        "e-1",
		"event_type":      "fill_update",
		"client_order_id": "c-1",
		"cumulative_qty":  "40",
		"last_price":      "151",
	}, signHook)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := fx.store.Order().GetByClientOrderID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(40)))
}

func TestWebhookEndpointBadSignature(t *testing.T) {
	fx := newFixture(t)

	rec := postWebhook(fx, map[string]interface{}{
		"event_type":      "fill_update",
		"client_order_id": "c-1",
		"cumulative_qty":  "40",
	}, func(ts string, body []byte) string { return "deadbeef" })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIgnoresBearerAuth(t *testing.T) {
	fx := newFixture(t)

	// No Authorization header at all; signature alone authenticates.
	rec := postWebhook(fx, map[string]interface{}{
		"event_type":      "status_update",
		"client_order_id": "unknown",
		"status":          "filled",
	}, signHook)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type readyTrue struct{}

func (readyTrue) Ready() bool { return true }

// Feed deliveries must keep landing while submissions are halted, so the
// local book can track fills that were already in flight at the broker.
func TestWebhookBypassesEngagedKillSwitch(t *testing.T) {
	store := repo.NewMemoryRepo()
	brk := broker.NewPaperBroker()
	rds := &stubRediser{strings: map[string]string{}}
	ks := gate.NewKillSwitchStore(rds)
	builder := gate.NewBuilder(gate.Deps{
		KillSwitch:   ks,
		Breaker:      gate.NewBreakerStore(rds),
		Quarantine:   gate.NewQuarantineStore(rds),
		RateLimiter:  gate.NewRateLimiter(rds, 600),
		Reservations: okPinger{},
		Ready:        readyTrue{},
	})
	chains := gateway.Chains{
		Trading: builder.TradingChain(),
		Slice:   builder.SliceChain(),
		Cancel:  builder.CancelChain(),
		Admin:   builder.AdminChain(),
	}
	svc := gateway.NewService(gateway.ServiceConfig{
		Limits:    &config.LimitsConfig{DefaultPositionLimit: 10000},
		FatFinger: &config.FatFingerConfig{MaxOrderQty: 5000, MaxNotional: "10000000"},
	}, chains, &stubReserver{}, store, brk, events.NewNopEmitter(), ks)
	ingestor := webhook.NewIngestor(webhook.Config{Secret: testSecret, MaxSkew: 5 * time.Minute}, store, events.NewNopEmitter())
	engine := reconcile.NewEngine(reconcile.Config{}, store, brk, events.NewNopEmitter())
	srv := NewServer(&config.HTTPConfig{
		Addr:       ":0",
		APIToken:   testAPIToken,
		AdminToken: testAdminToken,
	}, svc, ingestor, engine)
	fx := &fixture{handler: srv.Handler(), store: store, broker: brk, ks: ks}

	require.Equal(t, http.StatusCreated, fx.do("POST", "/orders", testAPIToken, orderBody("c-1")).Code)
	require.NoError(t, ks.Engage(context.Background()))

	rec := fx.do("POST", "/orders", testAPIToken, orderBody("c-2"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = postWebhook(fx, map[string]interface{}{
		"event_id":        "e-halted",
		"event_type":      "fill_update",
		"client_order_id": "c-1",
		"cumulative_qty":  "40",
		"last_price":      "151",
	}, signHook)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := fx.store.Order().GetByClientOrderID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(40)))
}

func TestHealthEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["reconcile_ready"])
}

func TestStatusFor(t *testing.T) {
	cases := map[model.ErrKind]int{
		model.ErrGateUnavailable: http.StatusServiceUnavailable,
		model.ErrTradingHalted:   http.StatusServiceUnavailable,
		model.ErrNotReady:        http.StatusServiceUnavailable,
		model.ErrPositionLimit:   http.StatusConflict,
		model.ErrDuplicateOrder:  http.StatusConflict,
		model.ErrValidation:      http.StatusBadRequest,
		model.ErrFatFinger:       http.StatusBadRequest,
		model.ErrRateLimited:     http.StatusTooManyRequests,
		model.ErrBroker:          http.StatusBadGateway,
		model.ErrUnauthorized:    http.StatusUnauthorized,
		model.ErrNotFound:        http.StatusNotFound,
		model.ErrInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}
