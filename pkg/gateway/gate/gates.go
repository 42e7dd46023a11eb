package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// Gate names are part of the metrics contract; do not rename.
const (
	GateRateLimit            = "rate_limit"
	GateValidate             = "validate"
	GateKillSwitchAvailable  = "kill_switch_available"
	GateBreakerAvailable     = "circuit_breaker_available"
	GateReservationAvailable = "reservation_store_available"
	GateKillSwitchEngaged    = "kill_switch_engaged"
	GateBreakerTripped       = "circuit_breaker_tripped"
	GateSymbolQuarantined    = "symbol_quarantined"
	GateReconcileReady       = "reconcile_ready"
	GateOperatorPermission   = "operator_permission"
)

// ReadyChecker reports whether reconciliation has established a trusted
// baseline since process start.
type ReadyChecker interface {
	Ready() bool
}

type rateLimitGate struct {
	limiter *RateLimiter
}

func (g *rateLimitGate) Name() string { return GateRateLimit }

func (g *rateLimitGate) Check(ctx context.Context, req *Request) error {
	ok, err := g.limiter.Allow(ctx, req.CallerKey)
	if err != nil {
		return &model.Error{Kind: model.ErrGateUnavailable, Gate: g.Name(), Msg: "rate limit store unreachable", Err: err}
	}
	if !ok {
		return model.Eg(model.ErrRateLimited, g.Name(), "request rate exceeded")
	}
	return nil
}

type validateGate struct{}

func (g *validateGate) Name() string { return GateValidate }

func (g *validateGate) Check(ctx context.Context, req *Request) error {
	if req.Symbol == "" {
		return model.Eg(model.ErrValidation, g.Name(), "symbol is required")
	}
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return model.Eg(model.ErrValidation, g.Name(), fmt.Sprintf("invalid side %q", req.Side))
	}
	if req.Type != model.OrderTypeLimit && req.Type != model.OrderTypeMarket {
		return model.Eg(model.ErrValidation, g.Name(), fmt.Sprintf("invalid order type %q", req.Type))
	}
	if !req.Quantity.IsPositive() {
		return model.Eg(model.ErrValidation, g.Name(), "quantity must be positive")
	}
	if req.Type == model.OrderTypeLimit && !req.Price.IsPositive() {
		return model.Eg(model.ErrValidation, g.Name(), "limit orders require a positive price")
	}
	return nil
}

// availabilityGate probes an infrastructure dependency with a bounded
// timeout. Any error is a hard stop: an unreachable kill switch is treated as
// engaged, never as disengaged.
type availabilityGate struct {
	name    string
	ping    func(ctx context.Context) error
	timeout time.Duration
}

func (g *availabilityGate) Name() string { return g.name }

func (g *availabilityGate) Check(ctx context.Context, req *Request) error {
	pctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.ping(pctx); err != nil {
		return &model.Error{Kind: model.ErrGateUnavailable, Gate: g.name, Msg: "state store unreachable", Err: err}
	}
	return nil
}

type killSwitchGate struct {
	store *KillSwitchStore
}

func (g *killSwitchGate) Name() string { return GateKillSwitchEngaged }

func (g *killSwitchGate) Check(ctx context.Context, req *Request) error {
	engaged, err := g.store.Engaged(ctx)
	if err != nil {
		return &model.Error{Kind: model.ErrGateUnavailable, Gate: g.Name(), Msg: "kill switch read failed", Err: err}
	}
	if engaged {
		return model.Eg(model.ErrTradingHalted, g.Name(), "kill switch engaged")
	}
	return nil
}

type breakerGate struct {
	store *BreakerStore
}

func (g *breakerGate) Name() string { return GateBreakerTripped }

func (g *breakerGate) Check(ctx context.Context, req *Request) error {
	tripped, err := g.store.Tripped(ctx, req.Symbol)
	if err != nil {
		return &model.Error{Kind: model.ErrGateUnavailable, Gate: g.Name(), Msg: "breaker read failed", Err: err}
	}
	if tripped {
		return model.Eg(model.ErrTradingHalted, g.Name(), fmt.Sprintf("circuit breaker open for %s", req.Symbol))
	}
	return nil
}

type quarantineGate struct {
	store *QuarantineStore
}

func (g *quarantineGate) Name() string { return GateSymbolQuarantined }

func (g *quarantineGate) Check(ctx context.Context, req *Request) error {
	flagged, err := g.store.Quarantined(ctx, req.Symbol)
	if err != nil {
		return &model.Error{Kind: model.ErrGateUnavailable, Gate: g.Name(), Msg: "quarantine read failed", Err: err}
	}
	if flagged {
		return model.Eg(model.ErrTradingHalted, g.Name(), fmt.Sprintf("symbol %s quarantined", req.Symbol))
	}
	return nil
}

type readyGate struct {
	checker ReadyChecker
}

func (g *readyGate) Name() string { return GateReconcileReady }

func (g *readyGate) Check(ctx context.Context, req *Request) error {
	if !g.checker.Ready() {
		return model.Eg(model.ErrNotReady, g.Name(), "reconciliation has not completed since startup")
	}
	return nil
}

type operatorGate struct{}

func (g *operatorGate) Name() string { return GateOperatorPermission }

func (g *operatorGate) Check(ctx context.Context, req *Request) error {
	if !req.Operator {
		return model.Eg(model.ErrUnauthorized, g.Name(), "operator permission required")
	}
	return nil
}
