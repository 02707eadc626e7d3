package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// healthHandler answers 200 when every dependency responds within pingTimeout and 503 with
// the first failure otherwise. HEAD gets headers only.
func healthHandler(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		for _, dep := range deps {
			if err := dep.PingContext(ctx); err != nil {
				WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "unavailable", Err: err})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		}
	}
}
