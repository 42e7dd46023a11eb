package httpapi

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
	"github.com/joripage/execution-gateway/pkg/logging"
)

// statusRecorder captures the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog tags every request with a request id and logs one line per
// request with the outcome.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logging.WithRequestID(r.Context(), requestID)
		log, ctx := logging.GetLogger(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Info(ctx, "http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type ctxKey int

const (
	ctxKeyCaller ctxKey = iota
	ctxKeyOperator
)

// requireAuth checks a bearer token. The caller key stored in the context
// feeds the per-caller rate-limit gate, so it must be stable per client:
// token holders keyed by role, anonymous rejected outright.
func (s *Server) requireAuth(token string, operator bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondError(w, model.E(model.ErrUnauthorized, "endpoint disabled: no token configured"))
				return
			}
			got := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, model.E(model.ErrUnauthorized, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyCaller, callerKey(r, operator))
			if operator {
				ctx = context.WithValue(ctx, ctxKeyOperator, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return h[len(prefix):]
}

func callerKey(r *http.Request, operator bool) string {
	role := "trader"
	if operator {
		role = "operator"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return role + ":" + host
}

func callerFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ctxKeyCaller).(string); ok {
		return v
	}
	return r.RemoteAddr
}

func isOperator(r *http.Request) bool {
	v, _ := r.Context().Value(ctxKeyOperator).(bool)
	return v
}
