package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Gate  string `json:"gate,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.S().Warnw("write response", "err", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	respondJSON(w, statusFor(kind), errorBody{
		Error: err.Error(),
		Kind:  string(kind),
		Gate:  model.GateOf(err),
	})
}

// statusFor maps the rejection taxonomy onto HTTP. Fail-closed outcomes are
// 503 so load balancers and clients treat them as retryable.
func statusFor(kind model.ErrKind) int {
	switch kind {
	case model.ErrGateUnavailable, model.ErrTradingHalted, model.ErrNotReady:
		return http.StatusServiceUnavailable
	case model.ErrPositionLimit:
		return http.StatusConflict
	case model.ErrDuplicateOrder:
		return http.StatusConflict
	case model.ErrValidation, model.ErrFatFinger:
		return http.StatusBadRequest
	case model.ErrRateLimited:
		return http.StatusTooManyRequests
	case model.ErrBroker:
		return http.StatusBadGateway
	case model.ErrUnauthorized:
		return http.StatusUnauthorized
	case model.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
