// Package httpx runs the small operational HTTP surface of long-lived
// engine processes.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"shift-allocation/internal/common/metrics"
)

const shutdownTimeout = 5 * time.Second

type Server struct{ *http.Server }

// New serves /metrics and /healthz on addr.
func New(addr string) *Server {
	return &Server{Server: &http.Server{
		Addr:              addr,
		Handler:           OpsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func OpsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
