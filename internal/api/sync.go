package api

import (
	"net/http"
)

// handlePauseSync pauses synchronisation. Local reads and writes continue.
func (s *Server) handlePauseSync(w http.ResponseWriter, r *http.Request) {
	s.writeAudited(w, r, "pause sync", "pause", "", nil)(s.session.PauseSync(r.Context()))
}

// handleResumeSync resumes synchronisation.
func (s *Server) handleResumeSync(w http.ResponseWriter, r *http.Request) {
	s.writeAudited(w, r, "resume sync", "resume", "", nil)(s.session.ResumeSync(r.Context()))
}

// handleSyncStatus reports the sync state, store counts and subscriptions.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.session.Status(r.Context())
	if err != nil {
		s.writeSessionError(w, "get sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"websocket_clients": s.hub.ClientCount(),
	})
}

// handleListSubscriptions returns the active subscription set.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs, err := s.session.Subscriptions()
	if err != nil {
		s.writeSessionError(w, "list subscriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}

// handleAddDeviceListener logs changes to the owner's first device.
func (s *Server) handleAddDeviceListener(w http.ResponseWriter, r *http.Request) {
	s.writeAudited(w, r, "add device listener", "listener_add", "Device", nil)(s.session.AddObjectChangeListener(r.Context()))
}

// handleRemoveDeviceListener stops logging changes to the owner's first device.
func (s *Server) handleRemoveDeviceListener(w http.ResponseWriter, r *http.Request) {
	s.writeAudited(w, r, "remove device listener", "listener_remove", "Device", nil)(s.session.RemoveObjectChangeListener(r.Context()))
}

// handleCleanup drops every listener, record and subscription. The change
// stream is re-attached afterwards so WebSocket clients keep receiving events.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.Cleanup(r.Context())
	if err != nil {
		s.writeSessionError(w, "clean up", err)
		return
	}
	if err := s.watchChanges(); err != nil {
		s.logger.Warn("re-attaching change stream failed", "error", err)
	}
	s.auditLog(r, "cleanup", "", "", nil)
	writeJSON(w, http.StatusOK, res)
}
