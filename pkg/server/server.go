package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/storage"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// Server handles the HTTP API for the tariff engine. Billing math stays in
// pkg/billing and pkg/tariff; the server decodes requests, resolves tariffs
// from the catalog, and encodes results.
type Server struct {
	storage storage.Database

	listenAddr string
	httpServer *http.Server
	serverName string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database) *Server {
	srv := &Server{
		storage:    s,
		serverName: "tariffdeck",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/bills/run", s.handleRunBills)
	apiMux.HandleFunc("POST /api/cycles/analyze", s.handleAnalyzeCycles)
	apiMux.HandleFunc("POST /api/tariffs/detect", s.handleDetectTariff)
	apiMux.HandleFunc("POST /api/scenarios/caps", s.handleScenarioCaps)
	apiMux.HandleFunc("GET /api/tariffs", s.handleListTariffs)
	apiMux.HandleFunc("POST /api/tariffs", s.handleUpsertTariff)
	apiMux.HandleFunc("GET /api/tariffs/{id}", s.handleGetTariff)
	apiMux.HandleFunc("GET /api/runs", s.handleRunHistory)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// resolveTariff returns the inline tariff when one is given, otherwise looks
// up tariffID in the catalog. A zero TariffModel with a non-nil error and the
// returned status code means the handler should bail.
func (s *Server) resolveTariff(ctx context.Context, inline *types.TariffModel, tariffID string) (types.TariffModel, int, error) {
	if inline != nil {
		return *inline, http.StatusOK, nil
	}
	if tariffID == "" {
		return types.TariffModel{}, http.StatusBadRequest, fmt.Errorf("either tariff or tariffId is required")
	}
	tariff, err := s.storage.GetTariff(ctx, tariffID)
	if err != nil {
		if errors.Is(err, storage.ErrTariffNotFound) {
			return types.TariffModel{}, http.StatusNotFound, fmt.Errorf("tariff %s not found", tariffID)
		}
		return types.TariffModel{}, http.StatusInternalServerError, fmt.Errorf("failed to fetch tariff: %w", err)
	}
	return tariff, http.StatusOK, nil
}

// resolvePeriods returns the inline billing periods when any are given,
// otherwise fetches the account's stored periods.
func (s *Server) resolvePeriods(ctx context.Context, inline []types.BillingPeriod, accountID string) ([]types.BillingPeriod, int, error) {
	if len(inline) > 0 {
		return inline, http.StatusOK, nil
	}
	if accountID == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("either billingPeriods or accountId is required")
	}
	periods, err := s.storage.GetBillingPeriods(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, http.StatusNotFound, fmt.Errorf("no billing periods stored for account %s", accountID)
		}
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to fetch billing periods: %w", err)
	}
	if len(periods) == 0 {
		return nil, http.StatusNotFound, fmt.Errorf("no billing periods stored for account %s", accountID)
	}
	return periods, http.StatusOK, nil
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
