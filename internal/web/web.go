package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskcal/internal/config"
	"taskcal/internal/feed"
	appLog "taskcal/internal/log"
	"taskcal/internal/store"
)

// feedCacheTTL bounds how stale a cached rendered feed may get between the
// cron-driven purges. Calendar clients poll rarely, so this is generous.
const feedCacheTTL = 5 * time.Minute

// Server provides the feed retrieval endpoint and the preference API.
type Server struct {
	cfg *config.Config
	st  *store.Store
	loc *time.Location
	mux *http.ServeMux

	// In-memory cache of rendered feeds keyed by access token, so calendar
	// clients hammering the same URL do not re-run selection and rendering
	// on every pull.
	feedMu    sync.RWMutex
	feedCache map[string]*feedCacheEntry
}

type feedCacheEntry struct {
	body      string
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, loc *time.Location) *Server {
	s := &Server{
		cfg:       cfg,
		st:        st,
		loc:       loc,
		mux:       http.NewServeMux(),
		feedCache: make(map[string]*feedCacheEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled for /api", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// PurgeFeedCache drops all cached rendered feeds. Called by the cron
// refresh job after a dataset reload.
func (s *Server) PurgeFeedCache() {
	s.feedMu.Lock()
	s.feedCache = make(map[string]*feedCacheEntry)
	s.feedMu.Unlock()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/feeds/", s.handleFeed)
	s.mux.HandleFunc("/api/subscribers/", s.handleSubscriber)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password is treated as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware protects /api/* with HTTP Basic Auth. Feed retrieval
// is authenticated by the opaque token alone, and /health stays open.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Taskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleFeed serves GET /feeds/{token}/calendar.ics.
//
// Anyone holding the token can fetch the feed; unknown and disabled feeds
// are indistinguishable from the outside (both 404).
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/feeds/")
	token, ok := strings.CutSuffix(rest, "/calendar.ics")
	if !ok || token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}

	sub, ok := s.st.SubscriberByToken(token)
	if !ok || !sub.Enabled {
		http.NotFound(w, r)
		return
	}

	cacheNow := time.Now()
	s.feedMu.RLock()
	fc := s.feedCache[token]
	s.feedMu.RUnlock()
	if fc != nil && cacheNow.Sub(fc.updatedAt) < feedCacheTTL {
		writeCalendar(w, fc.body)
		return
	}

	// "now" is captured once and used for every window check in this
	// generation, so a single invocation cannot see a unit half in and
	// half out of its enrollment window.
	now := time.Now().In(s.loc)

	entries := s.st.EntriesFor(sub)
	visible := feed.SelectTaskDefinitions(entries, sub, now)

	body, err := feed.Render(visible, sub, feed.Options{
		ProductID:    s.cfg.ProductID,
		CalendarName: s.cfg.CalendarName,
	})
	if err != nil {
		appLog.Error("feed render failed", err, "subscriber_id", sub.ID)
		if errors.Is(err, feed.ErrMissingTargetDate) {
			http.Error(w, "feed contains a task definition without a target date", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "failed to generate feed", http.StatusInternalServerError)
		return
	}

	s.feedMu.Lock()
	s.feedCache[token] = &feedCacheEntry{body: body, updatedAt: time.Now()}
	s.feedMu.Unlock()

	appLog.Info("feed generated", "subscriber_id", sub.ID, "event_entries", len(visible))
	writeCalendar(w, body)
}

func writeCalendar(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// subscriberView is the JSON shape returned by the preference API.
type subscriberView struct {
	GUID              string  `json:"guid"`
	Enabled           bool    `json:"enabled"`
	IncludeStartDates bool    `json:"include_start_dates"`
	ReminderTime      int     `json:"reminder_time,omitempty"`
	ReminderUnit      string  `json:"reminder_unit,omitempty"`
	UnitExclusions    []int64 `json:"unit_exclusions,omitempty"`
}

// preferencesRequest mirrors store.Preferences; absent fields stay unchanged.
type preferencesRequest struct {
	Enabled           *bool    `json:"enabled"`
	IncludeStartDates *bool    `json:"include_start_dates"`
	ReminderTime      *int     `json:"reminder_time"`
	ReminderUnit      *string  `json:"reminder_unit"`
	UnitExclusions    *[]int64 `json:"unit_exclusions"`
}

// handleSubscriber dispatches:
//
//	PUT  /api/subscribers/{token}        -> preference update
//	POST /api/subscribers/{token}/rotate -> token rotation
func (s *Server) handleSubscriber(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/subscribers/")

	if token, ok := strings.CutSuffix(rest, "/rotate"); ok {
		s.handleRotate(w, r, token)
		return
	}
	if strings.Contains(rest, "/") || rest == "" {
		http.NotFound(w, r)
		return
	}
	s.handleUpdatePreferences(w, r, rest)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := s.st.UpdatePreferences(token, store.Preferences{
		Enabled:           req.Enabled,
		IncludeStartDates: req.IncludeStartDates,
		ReminderTime:      req.ReminderTime,
		ReminderUnit:      req.ReminderUnit,
		UnitExclusions:    req.UnitExclusions,
	})
	switch {
	case errors.Is(err, store.ErrInvalidReminder):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrUnknownSubscriber):
		http.NotFound(w, r)
		return
	case err != nil:
		appLog.Error("preference update failed", err)
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}

	// Preferences affect rendering, so the cached feed is stale now.
	s.invalidateToken(token)

	writeJSON(w, http.StatusOK, subscriberView{
		GUID:              sub.GUID,
		Enabled:           sub.Enabled,
		IncludeStartDates: sub.IncludeStartDates,
		ReminderTime:      sub.ReminderTime,
		ReminderUnit:      sub.ReminderUnit,
		UnitExclusions:    sub.UnitExclusions,
	})
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	newToken, err := s.st.RotateToken(token)
	switch {
	case errors.Is(err, store.ErrUnknownSubscriber):
		http.NotFound(w, r)
		return
	case err != nil:
		appLog.Error("token rotation failed", err)
		writeError(w, http.StatusInternalServerError, "failed to rotate token")
		return
	}

	s.invalidateToken(token)

	writeJSON(w, http.StatusOK, map[string]string{"guid": newToken})
}

func (s *Server) invalidateToken(token string) {
	s.feedMu.Lock()
	delete(s.feedCache, token)
	s.feedMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
