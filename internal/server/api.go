package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type errorResponse struct {
	Error string `json:"error"`
}

type contactRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// reminderView is a reminder with its contact inlined, as listed by the API.
type reminderView struct {
	engine.Reminder
	Contact contactRef `json:"contact"`
}

type contactedResponse struct {
	Reminder *engine.Reminder `json:"reminder"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reminders.GenerateUpcomingReminders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reminders.RefreshAllReminders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days, ok := s.days(w, r)
	if !ok {
		return
	}
	items, err := s.Reminders.UpcomingReminders(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views(items))
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	days, ok := s.days(w, r)
	if !ok {
		return
	}
	items, err := s.Reminders.Agenda(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views(items))
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	rem, err := s.Completion.Dismiss(r.Context(), chi.URLParam(r, config.URLParamID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleContacted(w http.ResponseWriter, r *http.Request) {
	rem, err := s.Completion.MarkContacted(r.Context(), chi.URLParam(r, config.URLParamID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, contactedResponse{Reminder: rem})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.Importer == nil {
		w.Header().Set(config.HeaderRetryAfter, config.RetryAfterSeconds)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: config.ErrImporterMissing})
		return
	}
	res, err := s.Importer.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.changed()
	writeJSON(w, http.StatusOK, res)
}

// days reads the optional ?days= window, writing a 400 when it is malformed.
func (s *Server) days(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get(config.QueryParamDays)
	if raw == "" {
		return s.DefaultDays, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > config.MaxUpcomingDays {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: config.ErrInvalidDays})
		return 0, false
	}
	return n, true
}

func views(items []engine.ContactReminder) []reminderView {
	out := make([]reminderView, len(items))
	for i, it := range items {
		out[i] = reminderView{
			Reminder: it.Reminder,
			Contact:  contactRef{ID: it.Contact.ID, Name: it.Contact.Name},
		}
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidWindow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusNotFound:
		msg = config.HTTPMsgNotFound
	case http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), config.HTTPMsgInternalErr,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyPath, r.URL.Path,
			config.LogKeyError, err)
		msg = config.HTTPMsgInternalErr
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(config.HeaderContentType, config.MimeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(config.ErrWriteResp,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyError, err)
	}
}
