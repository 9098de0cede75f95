package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/berguner/looper/pkg/models"
	"github.com/berguner/looper/pkg/service"
	"github.com/pkg/errors"
)

// Server exposes the run status of one project over HTTP. Every request
// rescans the results folders; nothing is cached between requests.
type Server struct {
	prj    *models.Project
	agg    *service.Aggregator
	subs   *service.SubmissionService // May be nil; /submissions then answers 503
	logger service.Logger
}

func NewServer(prj *models.Project, subs *service.SubmissionService, logger service.Logger) *Server {
	if logger == nil {
		logger = service.NopLogger()
	}
	return &Server{
		prj:    prj,
		agg:    service.NewAggregator(logger),
		subs:   subs,
		logger: logger,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/flags", s.FlagsHandler)
	mux.HandleFunc("/flags/summary", s.FlagSummaryHandler)
	mux.HandleFunc("/submissions", s.SubmissionsHandler)
	return mux
}

// StartServer serves srv on port until ctx is cancelled.
func StartServer(ctx context.Context, port string, srv *Server) error {
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		srv.logger.Infof("Starting looper status server on :%s", port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.logger.Infof("Shutting down status server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "looper status server is running")
}

// FlagsHandler answers GET /flags?kind=completed&kind=failed with the flag
// paths per requested status. No kind means every status.
func (s *Server) FlagsHandler(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	writeJSON(w, index, s.logger)
}

// FlagSummaryHandler answers GET /flags/summary with flag counts per status.
func (s *Server) FlagSummaryHandler(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	writeJSON(w, service.Summarize(index), s.logger)
}

// SubmissionsHandler answers GET /submissions?sample=&pipeline= from the ledger.
func (s *Server) SubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.subs == nil {
		http.Error(w, "No submission ledger configured", http.StatusServiceUnavailable)
		return
	}
	history, err := s.subs.History(r.URL.Query().Get("sample"), r.URL.Query().Get("pipeline"))
	if err != nil {
		s.logger.Errorf("Failed to list submissions: %v", err)
		http.Error(w, fmt.Sprintf("Failed to list submissions: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, history, s.logger)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) (models.FlagIndex, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	kinds := []models.FlagStatus{}
	for _, raw := range r.URL.Query()["kind"] {
		kind := models.FlagStatus(raw)
		if !kind.Valid() {
			http.Error(w, fmt.Sprintf("Unknown flag kind %q", raw), http.StatusBadRequest)
			return nil, false
		}
		kinds = append(kinds, kind)
	}
	index, err := s.agg.FlagsByKind(s.prj, "", kinds...)
	if err != nil {
		s.logger.Errorf("Failed to collect flags: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrPrecondition) || errors.Is(err, models.ErrMissingMetadata) {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("Failed to collect flags: %v", err), status)
		return nil, false
	}
	return index, true
}

func writeJSON(w http.ResponseWriter, v interface{}, logger service.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
