package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/gateway/webhook"
)

const maxBodyBytes = 1 << 20

type submitOrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
}

type sliceOrderRequest struct {
	submitOrderRequest
	Slices int `json:"slices"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, model.E(model.ErrValidation, err.Error()))
		return
	}

	sub := &model.SubmitOrder{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          model.OrderSide(req.Side),
		Type:          model.OrderType(req.Type),
		Quantity:      req.Quantity,
		Price:         req.Price,
	}
	order, err := s.service.Submit(r.Context(), sub, callerFrom(r))
	if err != nil {
		// A duplicate carries the original order; replay it with 200 so
		// client retries are safe.
		if model.KindOf(err) == model.ErrDuplicateOrder && order != nil {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"order":     order,
				"duplicate": true,
			})
			return
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"order": order})
}

func (s *Server) handleSubmitSlice(w http.ResponseWriter, r *http.Request) {
	var req sliceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, model.E(model.ErrValidation, err.Error()))
		return
	}

	sl := &model.SliceOrder{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          model.OrderSide(req.Side),
		Type:          model.OrderType(req.Type),
		Quantity:      req.Quantity,
		Price:         req.Price,
		Slices:        req.Slices,
	}
	orders, err := s.service.SubmitSlice(r.Context(), sl, callerFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"parent_client_order_id": sl.ClientOrderID,
		"orders":                 orders,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.service.GetOrder(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.service.Cancel(r.Context(), id, callerFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.service.Positions(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *Server) handleKillSwitch(engage bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.SetKillSwitch(r.Context(), engage, isOperator(r)); err != nil {
			respondError(w, err)
			return
		}
		state := "disengaged"
		if engage {
			state = "engaged"
		}
		zap.S().Warnw("kill switch changed", "state", state, "remote", r.RemoteAddr)
		respondJSON(w, http.StatusOK, map[string]string{"kill_switch": state})
	}
}

// handleWebhook is signature-authenticated only; no bearer token and no gate
// chain on this path.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, model.E(model.ErrValidation, "read body"))
		return
	}

	sig := r.Header.Get("X-Signature")
	ts := r.Header.Get("X-Timestamp")
	if !s.ingestor.VerifySignature(ts, sig, body) {
		respondError(w, model.E(model.ErrUnauthorized, "invalid signature"))
		return
	}

	var ev webhook.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		respondError(w, model.E(model.ErrValidation, "malformed event"))
		return
	}

	res, err := s.ingestor.Process(r.Context(), &ev)
	switch res {
	case webhook.ResultError:
		zap.S().Errorw("webhook apply failed", "event_id", ev.EventID, "err", err)
		respondError(w, model.Ew(model.ErrInternal, "apply event", err))
	case webhook.ResultRejected:
		// Acknowledged but not applied; 200 so the broker stops retrying.
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		respondJSON(w, http.StatusOK, map[string]string{"result": string(res), "reason": msg})
	default:
		respondJSON(w, http.StatusOK, map[string]string{"result": string(res)})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"reconcile_ready":   s.engine.Ready(),
		"reconcile_running": s.engine.Running(),
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
