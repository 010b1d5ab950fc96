// Package server exposes the reminder operations over HTTP and serves the cached
// iCalendar feed.
package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
	"github.com/tartampluch/go-keepintouch/internal/importer"
)

// ReminderService is the reconciler surface used by the API.
type ReminderService interface {
	GenerateUpcomingReminders(ctx context.Context) (engine.GenerateResult, error)
	RefreshAllReminders(ctx context.Context) (engine.RefreshResult, error)
	UpcomingReminders(ctx context.Context, withinDays int) ([]engine.ContactReminder, error)
	Agenda(ctx context.Context, withinDays int) ([]engine.ContactReminder, error)
}

// CompletionService applies user actions to reminders and contacts.
type CompletionService interface {
	Dismiss(ctx context.Context, reminderID string) (engine.Reminder, error)
	MarkContacted(ctx context.Context, contactID string) (*engine.Reminder, error)
}

// ContactImporter runs one vCard import.
type ContactImporter interface {
	Run(ctx context.Context) (importer.Result, error)
}

// cacheItem stores the rendered calendar and its metadata for HTTP caching.
type cacheItem struct {
	data         []byte
	etag         string
	lastModified string // RFC1123
}

// Server routes the JSON API and the calendar feed.
type Server struct {
	Addr        string
	Reminders   ReminderService
	Completion  CompletionService
	Importer    ContactImporter // Optional. Import returns 503 without it.
	DefaultDays int

	// Changed, if set, is called after any request that modified reminders so the
	// feed can be rebuilt. It must not block.
	Changed func()

	// Read far more often than written, so lock-free.
	cache atomic.Pointer[cacheItem]
}

func New(addr string, reminders ReminderService, completion CompletionService) *Server {
	return &Server{
		Addr:        addr,
		Reminders:   reminders,
		Completion:  completion,
		DefaultDays: config.DefaultUpcomingDays,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.RealIP,
		middleware.CleanPath,
		requestLogger,
		middleware.Timeout(config.RequestTimeout),
	)

	r.HandleFunc(config.RouteCalendar, s.handleCalendar)

	r.Route(config.RouteAPI, func(r chi.Router) {
		r.Post(config.RouteGenerate, s.handleGenerate)
		r.Post(config.RouteRefresh, s.handleRefresh)
		r.Get(config.RouteUpcoming, s.handleUpcoming)
		r.Get(config.RouteAgenda, s.handleAgenda)
		r.Post(config.RouteDismiss, s.handleDismiss)
		r.Post(config.RouteContacted, s.handleContacted)
		r.Post(config.RouteImport, s.handleImport)
	})
	return r
}

// Start listens on Addr and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.Addr == "" {
		return errors.New(config.ErrAddrRequired)
	}

	srv := &http.Server{
		Addr:         s.Addr,
		Handler:      s.Router(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverError := make(chan error, config.ChannelBufferSize)
	go func() {
		slog.Info(config.MsgServerListen,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyAddr, s.Addr,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info(config.MsgServerStop, config.LogKeyComponent, config.CompServer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: %w", config.ErrServerShutdown, err)
		}
		return nil

	case err := <-serverError:
		return fmt.Errorf("%s: %w", config.ErrServerStartup, err)
	}
}

// Update atomically replaces the served calendar.
func (s *Server) Update(data []byte) {
	hash := sha256.Sum256(data)
	etag := fmt.Sprintf(config.FormatETag, hex.EncodeToString(hash[:]))

	s.cache.Store(&cacheItem{
		data:         data,
		etag:         etag,
		lastModified: time.Now().UTC().Format(http.TimeFormat),
	})

	slog.Debug(config.MsgCacheUpdated,
		config.LogKeyComponent, config.CompServer,
		config.LogKeySizeBytes, len(data),
		config.LogKeyETag, etag,
	)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set(config.HeaderAllow, config.AllowedMethods)
		http.Error(w, config.HTTPMsgMethodNotAll, http.StatusMethodNotAllowed)
		return
	}

	item := s.cache.Load()
	if item == nil {
		w.Header().Set(config.HeaderRetryAfter, config.RetryAfterSeconds)
		http.Error(w, config.HTTPMsgInitializing, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set(config.HeaderContentType, config.MimeTextCalendar)
	w.Header().Set(config.HeaderXContentType, config.MimeNoSniff)
	w.Header().Set(config.HeaderCacheControl, config.CacheControlPrivate)
	w.Header().Set(config.HeaderETag, item.etag)
	w.Header().Set(config.HeaderLastModified, item.lastModified)

	if notModified(r, item) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodGet {
		if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
			slog.Error(config.ErrWriteResp,
				config.LogKeyComponent, config.CompServer,
				config.LogKeyError, err,
			)
		}
	}
}

// notModified evaluates If-None-Match first, then If-Modified-Since.
func notModified(r *http.Request, item *cacheItem) bool {
	if match := r.Header.Get(config.HeaderIfNoneMatch); match != "" {
		return match == item.etag
	}
	since := r.Header.Get(config.HeaderIfModifiedSince)
	if since == "" {
		return false
	}
	clientTime, err := http.ParseTime(since)
	if err != nil {
		return false
	}
	serverTime, err := http.ParseTime(item.lastModified)
	if err != nil {
		return false
	}
	return !serverTime.After(clientTime)
}

func (s *Server) changed() {
	if s.Changed != nil {
		s.Changed()
	}
}
