package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentcord/agentcord/internal/state"
)

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  s.version,
		Uptime:   time.Since(s.startedAt).Round(time.Second).String(),
		Sessions: len(s.store.All()),
	})
}

// sessionView is the read-only session representation. The raw session
// identity stays private; only the display prefix leaves the process.
type sessionView struct {
	ID               string    `json:"id"`
	ChannelID        string    `json:"channelId"`
	Topic            string    `json:"topic,omitempty"`
	WorkingDir       string    `json:"workingDir"`
	CreatedAt        time.Time `json:"createdAt"`
	MessageCount     int       `json:"messageCount"`
	LastAlertPercent int       `json:"lastAlertPercent"`
}

func viewOf(sess state.Session) sessionView {
	return sessionView{
		ID:               sess.ShortID(),
		ChannelID:        sess.ChannelID,
		Topic:            sess.Topic,
		WorkingDir:       sess.WorkingDir,
		CreatedAt:        sess.CreatedAt,
		MessageCount:     sess.MessageCount,
		LastAlertPercent: sess.LastAlertPercent,
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.All()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	sess, ok := s.store.Get(channelID)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no session for channel")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}
