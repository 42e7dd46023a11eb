package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/config"
	"github.com/joripage/execution-gateway/pkg/gateway/broker"
	"github.com/joripage/execution-gateway/pkg/gateway/events"
	"github.com/joripage/execution-gateway/pkg/gateway/gate"
	"github.com/joripage/execution-gateway/pkg/gateway/metrics"
	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
	"github.com/joripage/execution-gateway/pkg/gateway/reservation"
)

// Reserver is the admission-control surface of the reservation store.
type Reserver interface {
	Reserve(ctx context.Context, symbol string, side model.OrderSide, qty, held, limit int64) (reservation.Token, bool, error)
	Release(ctx context.Context, token reservation.Token) error
}

type Chains struct {
	Trading *gate.Chain
	Slice   *gate.Chain
	Cancel  *gate.Chain
	Admin   *gate.Chain
}

type ServiceConfig struct {
	Limits        *config.LimitsConfig
	FatFinger     *config.FatFingerConfig
	BrokerTimeout time.Duration
	MaxSlices     int
}

// Service orchestrates gate chain, position reservation, idempotency lookup,
// broker call and persistence for every mutating trading action.
type Service struct {
	cfg          ServiceConfig
	chains       Chains
	reservations Reserver
	repo         repo.IRepo
	broker       broker.Broker
	emitter      events.Emitter
	killSwitch   *gate.KillSwitchStore
}

func NewService(cfg ServiceConfig, chains Chains, reservations Reserver, store repo.IRepo, brk broker.Broker, emitter events.Emitter, killSwitch *gate.KillSwitchStore) *Service {
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 10 * time.Second
	}
	if cfg.MaxSlices <= 0 {
		cfg.MaxSlices = 50
	}
	return &Service{
		cfg:          cfg,
		chains:       chains,
		reservations: reservations,
		repo:         store,
		broker:       brk,
		emitter:      emitter,
		killSwitch:   killSwitch,
	}
}

// Submit runs the full pipeline for one order. On a duplicate client_order_id
// the existing order is returned together with an ErrDuplicateOrder so the
// transport can answer idempotently.
func (s *Service) Submit(ctx context.Context, sub *model.SubmitOrder, caller string) (*model.Order, error) {
	if sub.ClientOrderID == "" {
		sub.ClientOrderID = uuid.NewString()
	}

	req := &gate.Request{
		Action:        gate.ActionSubmit,
		Symbol:        sub.Symbol,
		Side:          sub.Side,
		Type:          sub.Type,
		Quantity:      sub.Quantity,
		Price:         sub.Price,
		ClientOrderID: sub.ClientOrderID,
		CallerKey:     caller,
	}
	if err := s.evaluate(ctx, s.chains.Trading, req); err != nil {
		return nil, err
	}

	return s.submitPhases(ctx, sub)
}

func (s *Service) evaluate(ctx context.Context, chain *gate.Chain, req *gate.Request) error {
	decision, err := chain.Evaluate(ctx, req)
	if err != nil {
		gateName := model.GateOf(err)
		metrics.GateRejections.WithLabelValues(gateName).Inc()
		s.countRejection(err)
		zap.S().Infow("gate rejected",
			"action", req.Action,
			"client_order_id", req.ClientOrderID,
			"gate", gateName,
			"kind", model.KindOf(err),
			"trace", decisionTrace(decision),
		)
		return err
	}
	return nil
}

func decisionTrace(d gate.Decision) []string {
	out := make([]string, 0, len(d))
	for _, r := range d {
		if r.Err != nil {
			out = append(out, r.Gate+":reject")
		} else {
			out = append(out, r.Gate+":pass")
		}
	}
	return out
}

func (s *Service) countRejection(err error) {
	switch model.KindOf(err) {
	case model.ErrValidation:
		metrics.Submissions.WithLabelValues("validation_rejected").Inc()
	default:
		metrics.Submissions.WithLabelValues("gate_rejected").Inc()
	}
}

// submitPhases is the three-phase protocol. Reservation comes first so
// concurrent duplicates cannot race past the atomic limit check; the broker
// call happens with no lock or transaction held; persistence is last.
func (s *Service) submitPhases(ctx context.Context, sub *model.SubmitOrder) (*model.Order, error) {
	// Phase 1a: reserve capacity.
	held, err := s.heldQty(ctx, sub.Symbol)
	if err != nil {
		return nil, model.Ew(model.ErrInternal, "read position", err)
	}
	limit := s.cfg.Limits.PositionLimit(sub.Symbol)
	token, ok, err := s.reservations.Reserve(ctx, sub.Symbol, sub.Side, sub.Quantity.IntPart(), held, limit)
	if err != nil {
		return nil, &model.Error{Kind: model.ErrGateUnavailable, Gate: gate.GateReservationAvailable, Msg: "reservation store failed", Err: err}
	}
	if !ok {
		metrics.Submissions.WithLabelValues("limit_rejected").Inc()
		return nil, model.E(model.ErrPositionLimit,
			fmt.Sprintf("position limit %d for %s would be exceeded", limit, sub.Symbol))
	}

	// Phase 1b: idempotency. A duplicate releases the reservation it just
	// took; the existing order answers the request.
	existing, err := s.repo.Order().GetByClientOrderID(ctx, sub.ClientOrderID)
	if err != nil {
		s.release(ctx, token)
		return nil, model.Ew(model.ErrInternal, "idempotency lookup", err)
	}
	if existing != nil {
		s.release(ctx, token)
		metrics.Submissions.WithLabelValues("duplicate").Inc()
		return existing, model.E(model.ErrDuplicateOrder, "client_order_id already submitted")
	}

	// Phase 1c: fat-finger thresholds.
	if err := s.fatFingerCheck(sub); err != nil {
		s.release(ctx, token)
		metrics.Submissions.WithLabelValues("validation_rejected").Inc()
		return nil, err
	}

	// Phase 2: broker call, outside any transaction. A timeout is a broker
	// error: release and let the caller retry against broker idempotency.
	bctx, cancel := context.WithTimeout(ctx, s.cfg.BrokerTimeout)
	start := time.Now()
	placed, err := s.broker.SubmitOrder(bctx, &broker.SubmitRequest{
		ClientOrderID: sub.ClientOrderID,
		Symbol:        sub.Symbol,
		Side:          sub.Side,
		Type:          sub.Type,
		Quantity:      sub.Quantity,
		Price:         sub.Price,
	})
	cancel()
	metrics.BrokerCallSeconds.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err != nil {
		s.release(ctx, token)
		metrics.Submissions.WithLabelValues("broker_error").Inc()
		return nil, model.Ew(model.ErrBroker, "broker submit failed", err)
	}

	// Phase 3: durable persistence. If this fails the broker order exists
	// without a local record; a retry finds no local order, resubmits the
	// same client_order_id and the broker's idempotency closes the gap. The
	// token is left to age out via TTL in that window.
	order := &model.Order{
		ClientOrderID:  sub.ClientOrderID,
		BrokerOrderID:  placed.BrokerOrderID,
		Symbol:         sub.Symbol,
		Side:           sub.Side,
		Type:           sub.Type,
		Quantity:       sub.Quantity,
		Price:          sub.Price,
		FilledQty:      placed.FilledQty,
		AvgFillPrice:   placed.AvgFillPrice,
		Status:         model.OrderStatusSubmitted,
		Version:        1,
		SourcePriority: model.SourceNone,
	}
	if _, err := s.repo.Order().Create(ctx, order); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			// Lost a create race with a concurrent duplicate that passed the
			// idempotency lookup in the same window. The broker deduplicated
			// the submission; the winner's row answers this request too.
			winner, gerr := s.repo.Order().GetByClientOrderID(ctx, sub.ClientOrderID)
			if gerr == nil && winner != nil {
				metrics.Submissions.WithLabelValues("duplicate").Inc()
				return winner, model.E(model.ErrDuplicateOrder, "client_order_id already submitted")
			}
		}
		zap.S().Errorw("persist order after broker accept",
			"client_order_id", sub.ClientOrderID,
			"broker_order_id", placed.BrokerOrderID,
			"err", err,
		)
		return nil, model.Ew(model.ErrInternal, "persist order", err)
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	s.emitter.Emit(ctx, model.NewOrderEvent(model.EventTypeSubmitted, *order))
	return order, nil
}

func (s *Service) heldQty(ctx context.Context, symbol string) (int64, error) {
	pos, err := s.repo.Position().Get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}
	return pos.Quantity.IntPart(), nil
}

func (s *Service) fatFingerCheck(sub *model.SubmitOrder) error {
	if sub.Quantity.GreaterThan(decimal.NewFromInt(s.cfg.FatFinger.MaxOrderQty)) {
		return model.E(model.ErrFatFinger,
			fmt.Sprintf("quantity %s exceeds max order qty %d", sub.Quantity, s.cfg.FatFinger.MaxOrderQty))
	}
	if sub.Price.IsPositive() {
		notional := sub.Quantity.Mul(sub.Price)
		if notional.GreaterThan(s.cfg.FatFinger.MaxNotionalDecimal()) {
			return model.E(model.ErrFatFinger,
				fmt.Sprintf("notional %s exceeds max %s", notional, s.cfg.FatFinger.MaxNotional))
		}
	}
	return nil
}

func (s *Service) release(ctx context.Context, token reservation.Token) {
	if err := s.reservations.Release(ctx, token); err != nil {
		// TTL is the backstop; a failed release only delays capacity return.
		zap.S().Warnw("release reservation", "symbol", token.Symbol, "token", token.ID, "err", err)
	}
}

// Cancel cancels an order. The cancel chain is empty by default so operators
// can always flatten risk; see gate.Builder.CancelChain.
func (s *Service) Cancel(ctx context.Context, clientOrderID, caller string) (*model.Order, error) {
	order, err := s.repo.Order().GetByClientOrderID(ctx, clientOrderID)
	if err != nil {
		return nil, model.Ew(model.ErrInternal, "lookup order", err)
	}
	if order == nil {
		return nil, model.E(model.ErrNotFound, "order not found")
	}

	req := &gate.Request{
		Action:        gate.ActionCancel,
		Symbol:        order.Symbol,
		ClientOrderID: clientOrderID,
		CallerKey:     caller,
	}
	if err := s.evaluate(ctx, s.chains.Cancel, req); err != nil {
		return nil, err
	}

	if order.Status.Terminal() {
		return order, model.E(model.ErrValidation,
			fmt.Sprintf("order already %s", order.Status))
	}

	bctx, cancel := context.WithTimeout(ctx, s.cfg.BrokerTimeout)
	start := time.Now()
	err = s.broker.CancelOrder(bctx, order.BrokerOrderID)
	cancel()
	metrics.BrokerCallSeconds.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, model.Ew(model.ErrBroker, "broker cancel failed", err)
	}

	rows, err := s.repo.Order().UpdateWithVersion(ctx, order.ID, order.Version, model.SourceSubmission, map[string]interface{}{
		"status": model.OrderStatusCanceled,
	})
	if err != nil {
		return nil, model.Ew(model.ErrInternal, "persist cancel", err)
	}
	if rows == 0 {
		// A concurrent fill or webhook won the race; the broker has the
		// final say and reconciliation converges the record.
		refreshed, rerr := s.repo.Order().GetByClientOrderID(ctx, clientOrderID)
		if rerr == nil && refreshed != nil {
			return refreshed, nil
		}
		return order, nil
	}

	order.Status = model.OrderStatusCanceled
	order.Version++
	order.SourcePriority = model.SourceSubmission
	s.emitter.Emit(ctx, model.NewOrderEvent(model.EventTypeCanceled, *order))
	return order, nil
}

// SubmitSlice splits a parent request into equal child orders. The slice
// chain runs once on the parent; each child then goes through the full
// three-phase pipeline with its own derived client_order_id.
func (s *Service) SubmitSlice(ctx context.Context, sl *model.SliceOrder, caller string) ([]*model.Order, error) {
	if sl.ClientOrderID == "" {
		sl.ClientOrderID = uuid.NewString()
	}
	if sl.Slices < 2 {
		return nil, model.E(model.ErrValidation, "slice count must be at least 2")
	}
	if sl.Slices > s.cfg.MaxSlices {
		return nil, model.E(model.ErrValidation,
			fmt.Sprintf("slice count %d exceeds max %d", sl.Slices, s.cfg.MaxSlices))
	}

	req := &gate.Request{
		Action:        gate.ActionSlice,
		Symbol:        sl.Symbol,
		Side:          sl.Side,
		Type:          sl.Type,
		Quantity:      sl.Quantity,
		Price:         sl.Price,
		ClientOrderID: sl.ClientOrderID,
		CallerKey:     caller,
	}
	if err := s.evaluate(ctx, s.chains.Slice, req); err != nil {
		return nil, err
	}

	n := int64(sl.Slices)
	each := sl.Quantity.DivRound(decimal.NewFromInt(n), 0)
	if !each.IsPositive() {
		return nil, model.E(model.ErrValidation, "quantity too small to slice")
	}

	orders := make([]*model.Order, 0, sl.Slices)
	remaining := sl.Quantity
	for i := 0; i < sl.Slices; i++ {
		qty := each
		if i == sl.Slices-1 {
			qty = remaining
		}
		child := &model.SubmitOrder{
			ClientOrderID: fmt.Sprintf("%s-s%d", sl.ClientOrderID, i+1),
			Symbol:        sl.Symbol,
			Side:          sl.Side,
			Type:          sl.Type,
			Quantity:      qty,
			Price:         sl.Price,
		}
		order, err := s.submitPhases(ctx, child)
		if err != nil && model.KindOf(err) != model.ErrDuplicateOrder {
			return orders, err
		}
		orders = append(orders, order)
		remaining = remaining.Sub(qty)
	}
	return orders, nil
}

// GetOrder returns the local view of one order.
func (s *Service) GetOrder(ctx context.Context, clientOrderID string) (*model.Order, error) {
	order, err := s.repo.Order().GetByClientOrderID(ctx, clientOrderID)
	if err != nil {
		return nil, model.Ew(model.ErrInternal, "lookup order", err)
	}
	if order == nil {
		return nil, model.E(model.ErrNotFound, "order not found")
	}
	return order, nil
}

// Positions returns the current local position view.
func (s *Service) Positions(ctx context.Context) ([]*model.Position, error) {
	return s.repo.Position().List(ctx)
}

// SetKillSwitch engages or disengages the global halt. Guarded by the admin
// chain, never by the trading chain.
func (s *Service) SetKillSwitch(ctx context.Context, engage, operator bool) error {
	req := &gate.Request{
		Action:   gate.ActionAdmin,
		Operator: operator,
	}
	if err := s.evaluate(ctx, s.chains.Admin, req); err != nil {
		return err
	}

	if engage {
		if err := s.killSwitch.Engage(ctx); err != nil {
			return model.Ew(model.ErrInternal, "engage kill switch", err)
		}
		zap.S().Warnw("kill switch engaged")
		return nil
	}
	if err := s.killSwitch.Disengage(ctx); err != nil {
		return model.Ew(model.ErrInternal, "disengage kill switch", err)
	}
	zap.S().Warnw("kill switch disengaged")
	return nil
}
