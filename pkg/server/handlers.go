package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keplerai/kepler/pkg/auth"
	"github.com/keplerai/kepler/pkg/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(s.agentCfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Resume != nil {
		if key := r.Header.Get("Idempotency-Key"); !s.idempotency.Claim(key) {
			writeError(w, http.StatusConflict, "duplicate request")
			return
		}
	}

	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sse, err := NewSSEWriter(w, s.metrics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	if req.Resume != nil {
		s.streams.ResumeStream(r.Context(), userID, &req, sse.Sink())
		return
	}
	s.streams.AskStream(r.Context(), userID, &req, sse.Sink())
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	conversations, err := s.store.List(r.Context(), auth.UserIDFromContext(r.Context()), offset, limit)
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": conversations,
		"offset":        offset,
		"limit":         limit,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conversation, err := s.store.Get(r.Context(), sessionID, auth.UserIDFromContext(r.Context()))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load conversation", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, conversation)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	turnsDeleted, err := s.store.Delete(r.Context(), sessionID, auth.UserIDFromContext(r.Context()))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete conversation", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"turns_deleted": turnsDeleted,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	cancelled, message := s.tasks.Cancel(sessionID)

	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": cancelled,
		"message":   message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
