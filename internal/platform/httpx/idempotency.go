package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// IdempotencyHeader lets clients retry a POST without applying it twice.
const IdempotencyHeader = "Idempotency-Key"

// KeyStore claims and releases idempotency keys.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Idempotent rejects a POST whose Idempotency-Key was already used for module.
// Keys of requests that fail are released again. Requests without the header
// pass through untouched.
func Idempotent(store KeyStore, module string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if err := store.CheckAndInsert(r.Context(), key, module); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					ProblemWithType(w, "conflict", http.StatusConflict, "Conflict", "request already processed", IdempotencyHeader)
					return
				}
				logger.Error("idempotency claim", slog.String("module", module), slog.Any("error", err))
				Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "idempotency store unavailable")
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusBadRequest {
				if err := store.Delete(context.WithoutCancel(r.Context()), key, module); err != nil {
					logger.Warn("idempotency release", slog.String("module", module), slog.Any("error", err))
				}
			}
		})
	}
}
