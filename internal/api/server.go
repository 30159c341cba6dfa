// Package api exposes the dedupe service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/dedupe"
	"github.com/sells-group/crm-dedupe/internal/record"
)

// Service is the part of the dedupe service the HTTP layer needs.
type Service interface {
	CheckDuplicates(ctx context.Context, payload record.ContactPayload, actingUser string) (*dedupe.DetectionRecord, error)
	ProcessDecision(ctx context.Context, detectionID uuid.UUID, decision dedupe.Action, target *record.Ref, actingUser, notes string) (*dedupe.DetectionRecord, error)
	ListReviewQueue(ctx context.Context, f dedupe.ReviewFilter) ([]dedupe.ReviewQueueEntry, error)
	AssignReview(ctx context.Context, itemID uuid.UUID, userID string) (*dedupe.ReviewItem, error)
	MergeHistory(ctx context.Context, f dedupe.MergeFilter) ([]dedupe.MergeOperation, error)
	DetectionHistory(ctx context.Context, f dedupe.DetectionFilter) ([]dedupe.DetectionRecord, error)
}

// Server handles the HTTP API.
type Server struct {
	svc Service
	log *zap.Logger
}

// NewServer creates a Server over the given service.
func NewServer(svc Service) *Server {
	return &Server{
		svc: svc,
		log: zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the HTTP route tree.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/duplicates/check", s.handleCheck)
		r.Post("/duplicates/{detectionID}/process", s.handleProcess)
		r.Get("/duplicates", s.handleDetectionHistory)
		r.Get("/review-queue", s.handleListReviewQueue)
		r.Post("/review-queue/{itemID}/assign", s.handleAssignReview)
		r.Get("/merge-history", s.handleMergeHistory)
	})

	return r
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var payload record.ContactPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	d, err := s.svc.CheckDuplicates(r.Context(), payload, actingUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	detectionID, err := uuid.Parse(chi.URLParam(r, "detectionID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid detection id"})
		return
	}

	var req struct {
		Action dedupe.Action `json:"action"`
		Target *record.Ref   `json:"target,omitempty"`
		Notes  string        `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !req.Action.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
		return
	}

	d, err := s.svc.ProcessDecision(r.Context(), detectionID, req.Action, req.Target, actingUser(r), req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDetectionHistory(w http.ResponseWriter, r *http.Request) {
	f := dedupe.DetectionFilter{
		Status: r.URL.Query().Get("status"),
		Action: dedupe.Action(r.URL.Query().Get("action")),
		Limit:  queryInt(r, "limit"),
	}
	out, err := s.svc.DetectionHistory(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse("detections", out))
}

func (s *Server) handleListReviewQueue(w http.ResponseWriter, r *http.Request) {
	f := dedupe.ReviewFilter{
		Status:     r.URL.Query().Get("status"),
		Priority:   r.URL.Query().Get("priority"),
		AssignedTo: r.URL.Query().Get("assigned_to"),
		Limit:      queryInt(r, "limit"),
	}
	out, err := s.svc.ListReviewQueue(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse("items", out))
}

func (s *Server) handleAssignReview(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid review item id"})
		return
	}

	// Assignee defaults to the acting user; a body can name someone else.
	userID := actingUser(r)
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.UserID != "" {
		userID = req.UserID
	}

	item, err := s.svc.AssignReview(r.Context(), itemID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleMergeHistory(w http.ResponseWriter, r *http.Request) {
	f := dedupe.MergeFilter{
		Status:     r.URL.Query().Get("status"),
		SourceKind: record.Kind(r.URL.Query().Get("type")),
		Limit:      queryInt(r, "limit"),
	}
	out, err := s.svc.MergeHistory(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse("operations", out))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dedupe.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, dedupe.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dedupe.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// actingUser identifies the caller for audit fields.
func actingUser(r *http.Request) string {
	if u := r.Header.Get("X-User-ID"); u != "" {
		return u
	}
	return "system"
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

// listResponse keeps empty lists as [] instead of null in responses.
func listResponse[T any](key string, items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{key: items, "count": len(items)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
