//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=server_mock
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/jobs"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
)

// maxWebhookBody caps inbound payloads; both providers send well under this.
const maxWebhookBody = 1 << 20

type Engine interface {
	Apply(ctx context.Context, p restoration.Proposal) (*restoration.ApplyResult, error)
}

type Reconciler interface {
	Run(ctx context.Context) (*jobs.Summary, error)
}

type RecordGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.RestorationRecord, error)
}

type HistoryRepo interface {
	GetByRecordID(ctx context.Context, recordID uuid.UUID) ([]*repository.RestorationEvent, error)
}

type UserRepo interface {
	ValidateUser(ctx context.Context, username, password string) (bool, error)
}

// Config carries the per-provider webhook credentials alongside the listen
// port. Either returns-platform credential may be empty, which disables that
// authentication form.
type Config struct {
	Port string

	StorefrontSecret string
	ReturnsSecret    string
	ReturnsHMACKey   string
}

type Server struct {
	engine     Engine
	reconciler Reconciler
	records    RecordGetter
	history    HistoryRepo
	users      UserRepo
	config     Config
	logger     *zap.Logger
	server     *http.Server
}

func New(engine Engine, reconciler Reconciler, records RecordGetter, history HistoryRepo, users UserRepo, config Config, logger *zap.Logger) *Server {
	return &Server{
		engine:     engine,
		reconciler: reconciler,
		records:    records,
		history:    history,
		users:      users,
		config:     config,
		logger:     logger,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("port", s.config.Port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	// Webhook endpoints authenticate by signature, not basic auth.
	router.HandleFunc("/webhooks/storefront", s.handleStorefrontWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/returns", s.handleReturnsWebhook).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	ops := router.NewRoute().Subrouter()
	ops.Use(s.basicAuthMiddleware)
	ops.HandleFunc("/restorations/{id}/receive", s.handleManualReceive).Methods(http.MethodPost)
	ops.HandleFunc("/restorations/{id}", s.handleGetRecord).Methods(http.MethodGet)
	ops.HandleFunc("/restorations/{id}/history", s.handleHistory).Methods(http.MethodGet)
	ops.HandleFunc("/jobs/reconcile", s.handleReconcile).Methods(http.MethodPost)

	return router
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		valid, err := s.users.ValidateUser(r.Context(), username, password)
		if err != nil || !valid {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondOK(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManualReceive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid restoration id")
		return
	}

	rec, err := s.records.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Restoration record not found")
		return
	}

	actor, _, _ := r.BasicAuth()

	// Address the record by id: a record whose order reference never
	// resolved has no linking keys, and the check-in desk still needs to
	// move it forward.
	result, err := s.engine.Apply(r.Context(), restoration.Proposal{
		RecordID:  rec.ID,
		EventType: "item.checked_in",
		Source:    restoration.SourceManual,
		Actor:     actor,
		Proposed:  restoration.StatusReceived,
		Payload: map[string]interface{}{
			"record_id": rec.ID.String(),
		},
	})
	if err != nil {
		s.logger.Error("manual receive failed", zap.String("record_id", id.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to check in item")
		return
	}
	if result.Record == nil {
		respondError(w, http.StatusNotFound, "Restoration record not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":             rec.ID.String(),
		"status":         result.Record.Status,
		"status_changed": result.StatusChanged,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid restoration id")
		return
	}

	rec, err := s.records.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Restoration record not found")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid restoration id")
		return
	}

	events, err := s.history.GetByRecordID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reconciler.Run(r.Context())
	if err != nil {
		s.logger.Error("reconciliation run failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Reconciliation failed")
		return
	}

	if summary.Skipped {
		respondJSON(w, http.StatusConflict, summary)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
