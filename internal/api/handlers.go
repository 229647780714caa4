package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// applicationsPage is the number of entries returned by the applications endpoint.
const applicationsPage = 20

type statusResult struct {
	Conversations      int           `json:"conversations"`
	AwaitingContact    int           `json:"awaiting_contact"`
	Activated          int           `json:"activated"`
	Expired            int           `json:"expired"`
	Deactivated        int           `json:"deactivated"`
	ScheduledReminders int           `json:"scheduled_reminders"`
	PendingTimers      int           `json:"pending_timers"`
	AdminLockActive    bool          `json:"admin_lock_active"`
	AdminLockHolder    models.UserID `json:"admin_lock_holder,omitempty"`
}

type applicationsResult struct {
	Total        int                  `json:"total"`
	Applications []models.Application `json:"applications"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.APIResponse{Status: string(models.APIStatusOK)})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	st, err := s.backend.CurrentStatus(ctx)
	if err != nil {
		slog.Error("Server.statusHandler: failed to read status", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Agent unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(statusResult{
		Conversations:      st.Conversations,
		AwaitingContact:    st.AwaitingContact,
		Activated:          st.Activated,
		Expired:            st.Expired,
		Deactivated:        st.Deactivated,
		ScheduledReminders: st.ScheduledReminders,
		PendingTimers:      st.PendingTimers,
		AdminLockActive:    st.LockActive,
		AdminLockHolder:    st.LockHolder,
	}))
}

func (s *Server) applicationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	apps, err := s.backend.Applications(ctx)
	if err != nil {
		slog.Error("Server.applicationsHandler: failed to list applications", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list applications"))
		return
	}
	res := applicationsResult{Total: len(apps), Applications: apps}
	if len(apps) > applicationsPage {
		res.Applications = apps[:applicationsPage]
	}
	if res.Applications == nil {
		res.Applications = []models.Application{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	if err := s.backend.Reset(ctx, "api"); err != nil {
		slog.Error("Server.resetHandler: reset failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Agent unavailable"))
		return
	}
	slog.Info("Server.resetHandler: state reset", "remote", r.RemoteAddr)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All user state cleared"))
}
