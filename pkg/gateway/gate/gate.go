package gate

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

type Action string

const (
	ActionSubmit Action = "submit"
	ActionSlice  Action = "slice"
	ActionCancel Action = "cancel"
	ActionAdmin  Action = "admin"
)

// Request is the gate-visible slice of an inbound mutating action.
// Authentication has already happened upstream; auth failures never reach a
// chain and never appear in decision traces.
type Request struct {
	Action        Action
	Symbol        string
	Side          model.OrderSide
	Type          model.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string

	// CallerKey buckets rate limiting.
	CallerKey string
	// Operator is set by the admin auth middleware.
	Operator bool
}

// Gate is one fail-closed precondition check.
type Gate interface {
	Name() string
	Check(ctx context.Context, req *Request) error
}

// Result is one gate's outcome within a decision trace.
type Result struct {
	Gate string
	Err  error
}

// Decision is the ordered trace of gate outcomes for one request. It is
// deterministic for the same inputs and exists for audit and tests only.
type Decision []Result

// Chain is an ordered list of gates. The order is a correctness contract:
// availability checks run before the state checks they guard, so an
// infrastructure outage can never fall through to "allowed".
type Chain struct {
	gates []Gate
}

func NewChain(gates ...Gate) *Chain {
	return &Chain{gates: gates}
}

// Names returns the evaluation order, for tests and audit.
func (c *Chain) Names() []string {
	names := make([]string, len(c.gates))
	for i, g := range c.gates {
		names[i] = g.Name()
	}
	return names
}

// Evaluate runs the chain and stops at the first failing gate. The returned
// decision contains one entry per evaluated gate; gates after a failure are
// never evaluated.
func (c *Chain) Evaluate(ctx context.Context, req *Request) (Decision, error) {
	decision := make(Decision, 0, len(c.gates))
	for _, g := range c.gates {
		err := g.Check(ctx, req)
		decision = append(decision, Result{Gate: g.Name(), Err: err})
		if err != nil {
			return decision, err
		}
	}
	return decision, nil
}
