package gate

import (
	"context"
	"time"
)

// Pinger is an availability probe on an infrastructure dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries the state stores the chains consult. Constructed once at
// startup and injected; gates never reach for ambient globals.
type Deps struct {
	KillSwitch   *KillSwitchStore
	Breaker      *BreakerStore
	Quarantine   *QuarantineStore
	RateLimiter  *RateLimiter
	Reservations Pinger
	Ready        ReadyChecker

	AvailabilityTimeout time.Duration
	// CancelUsesTradingGates switches the cancel chain from ungated (the
	// default: operators must always be able to cancel) to the availability
	// and kill-switch subset of the trading chain.
	CancelUsesTradingGates bool
}

type Builder struct {
	deps Deps
}

func NewBuilder(deps Deps) *Builder {
	if deps.AvailabilityTimeout <= 0 {
		deps.AvailabilityTimeout = 500 * time.Millisecond
	}
	return &Builder{deps: deps}
}

func (b *Builder) availability(name string, p Pinger) Gate {
	return &availabilityGate{
		name:    name,
		ping:    p.Ping,
		timeout: b.deps.AvailabilityTimeout,
	}
}

// TradingChain is the full submission chain. The documented order is a
// correctness contract, not an optimization; no reordering is permitted.
func (b *Builder) TradingChain() *Chain {
	return NewChain(
		&rateLimitGate{limiter: b.deps.RateLimiter},
		&validateGate{},
		b.availability(GateKillSwitchAvailable, b.deps.KillSwitch),
		b.availability(GateBreakerAvailable, b.deps.Breaker),
		b.availability(GateReservationAvailable, b.deps.Reservations),
		&killSwitchGate{store: b.deps.KillSwitch},
		&breakerGate{store: b.deps.Breaker},
		&quarantineGate{store: b.deps.Quarantine},
		&readyGate{checker: b.deps.Ready},
	)
}

// SliceChain omits both circuit-breaker gates. Slice admission happens once
// on the parent; children skip gate evaluation and are bounded instead by the
// per-child reservation in the submission pipeline.
func (b *Builder) SliceChain() *Chain {
	return NewChain(
		&rateLimitGate{limiter: b.deps.RateLimiter},
		&validateGate{},
		b.availability(GateKillSwitchAvailable, b.deps.KillSwitch),
		b.availability(GateReservationAvailable, b.deps.Reservations),
		&killSwitchGate{store: b.deps.KillSwitch},
		&quarantineGate{store: b.deps.Quarantine},
		&readyGate{checker: b.deps.Ready},
	)
}

// CancelChain is empty unless configured otherwise; cancellation is
// risk-reducing and must stay reachable in degraded modes.
func (b *Builder) CancelChain() *Chain {
	if !b.deps.CancelUsesTradingGates {
		return NewChain()
	}
	return NewChain(
		b.availability(GateKillSwitchAvailable, b.deps.KillSwitch),
		&killSwitchGate{store: b.deps.KillSwitch},
	)
}

// AdminChain guards kill-switch engage/disengage.
func (b *Builder) AdminChain() *Chain {
	return NewChain(
		&operatorGate{},
	)
}
