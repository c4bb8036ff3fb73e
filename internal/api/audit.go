package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/devicesync/internal/audit"
)

const (
	// auditBufferSize bounds entries waiting to be written.
	auditBufferSize = 256

	// auditPruneInterval is how often entries past the retention window
	// are deleted.
	auditPruneInterval = time.Hour
)

// auditLog queues a journal entry for the request's user. It never blocks
// the request; a full queue drops the entry with a warning.
func (s *Server) auditLog(r *http.Request, action, recordType, recordID string, details map[string]any) {
	userID := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = claims.Subject
	}
	s.auditLogAs(userID, action, recordType, recordID, details)
}

func (s *Server) auditLogAs(userID, action, recordType, recordID string, details map[string]any) {
	if s.journal == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		RecordType: recordType,
		RecordID:   recordID,
		UserID:     userID,
		Source:     "api",
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit queue full, dropping entry", "action", action, "record_type", recordType)
	}
}

// auditLoop writes queued entries serially and prunes old ones. On
// cancellation it drains what is left before returning.
func (s *Server) auditLoop(ctx context.Context) {
	defer close(s.auditDone)

	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()

	s.pruneAudit()
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ticker.C:
			s.pruneAudit()
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.journal.Record(context.Background(), entry); err != nil {
		s.logger.Error("audit write failed", "action", entry.Action, "error", err)
	}
}

func (s *Server) pruneAudit() {
	if s.cfg.AuditRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(s.cfg.AuditRetention) * 24 * time.Hour)
	n, err := s.journal.Prune(context.Background(), cutoff)
	if err != nil {
		s.logger.Error("audit prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("audit entries pruned", "count", n)
	}
}

// handleListAudit returns journal entries, most recent first.
// Query parameters: action, record_type, user_id, since (RFC 3339), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		RecordType: q.Get("record_type"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
