package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/fibreflow/staging/internal/auth"
	"github.com/fibreflow/staging/internal/fault"
	"github.com/fibreflow/staging/internal/gateway"
	"github.com/fibreflow/staging/internal/store"
)

// Server exposes the manual override gateway, intake, and dead-letter
// inspection over HTTP.
type Server struct {
	gateway  *gateway.Gateway
	store    store.Store
	verifier *auth.Verifier
}

func New(gw *gateway.Gateway, st store.Store, verifier *auth.Verifier) *Server {
	return &Server{gateway: gw, store: st, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/staging", func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Post("/submissions", s.handleSubmit)
		r.Get("/submissions/{id}", s.handleGetSubmission)
		r.Post("/submissions/{id}/approve", s.handleApprove)
		r.Post("/submissions/{id}/reject", s.handleReject)
		r.Get("/dead-letters", s.handleDeadLetters)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type submitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.gateway.Submit(r.Context(), caller, gateway.SubmitRequest{
		Type:    req.Type,
		Payload: req.Payload,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	sub, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

type approveRequest struct {
	Corrections json.RawMessage `json:"corrections"`
	Notes       string          `json:"notes"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.gateway.Approve(r.Context(), caller, gateway.ApproveRequest{
		SubmissionID: id,
		Corrections:  req.Corrections,
		Notes:        req.Notes,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

type rejectRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.gateway.Reject(r.Context(), caller, gateway.RejectRequest{
		SubmissionID: id,
		Reason:       req.Reason,
		Details:      req.Details,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := s.gateway.DeadLetters(r.Context(), caller, limit)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// respondFault maps the error taxonomy to HTTP statuses so the admin client
// can distinguish error kinds without string parsing.
func respondFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.PermissionDenied:
		status = http.StatusForbidden
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.FailedPrecondition:
		status = http.StatusConflict
	case fault.InvalidArgument:
		status = http.StatusBadRequest
	case fault.TransientInfrastructure:
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
