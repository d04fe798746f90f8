package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"vtzcal/internal/config"
	"vtzcal/internal/export"
	"vtzcal/internal/ics"
	appLog "vtzcal/internal/log"
	"vtzcal/internal/tzdb"
	"vtzcal/internal/vtimezone"
)

// ZoneSource is the part of *tzdb.Database the server needs.
type ZoneSource interface {
	vtimezone.Lookuper
	Names() ([]string, error)
}

// LastExport yields the most recent export; *export.Exporter implements it.
type LastExport interface {
	Last() *export.Result
}

const (
	zoneCacheTTL  = 30 * time.Second
	namesCacheTTL = 5 * time.Minute
)

// Server provides HTTP APIs for zone and export access.
type Server struct {
	cfg     *config.Config
	zones   ZoneSource
	exports LastExport
	mux     *http.ServeMux

	// now is the clock for cache expiry and zero window bounds.
	now func() time.Time

	// In-memory cache of built trees to avoid repeating lookups and
	// builds for popular zones.
	treeMu    sync.Mutex
	treeCache map[treeKey]treeEntry

	namesMu    sync.Mutex
	namesCache *namesEntry
}

// treeKey holds UTC bounds; time.Time values with different locations
// never compare equal as map keys.
type treeKey struct {
	tzid     string
	from, to time.Time
}

type treeEntry struct {
	tree      *vtimezone.Timezone
	updatedAt time.Time
}

type namesEntry struct {
	names     []string
	updatedAt time.Time
}

// NewServer constructs a new Server. exports may be nil when no export
// runs in this process.
func NewServer(cfg *config.Config, zones ZoneSource, exports LastExport) *Server {
	s := &Server{
		cfg:       cfg,
		zones:     zones,
		exports:   exports,
		mux:       http.NewServeMux(),
		now:       time.Now,
		treeCache: make(map[treeKey]treeEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="vtzcal", charset="UTF-8"`)
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

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /zones", s.handleZoneNames)
	s.mux.HandleFunc("GET /zones/{tzid...}", s.handleZoneICS)
	s.mux.HandleFunc("GET /api/zones/{tzid...}", s.handleZoneJSON)
	s.mux.HandleFunc("GET /export.ics", s.handleExport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type zoneNamesResponse struct {
	Zones []string `json:"zones"`
}

// handleZoneNames lists every zone the database can resolve.
func (s *Server) handleZoneNames(w http.ResponseWriter, _ *http.Request) {
	now := s.now()

	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	if nc := s.namesCache; nc != nil && now.Sub(nc.updatedAt) < namesCacheTTL {
		writeJSON(w, http.StatusOK, zoneNamesResponse{Zones: nc.names})
		return
	}

	names, err := s.zones.Names()
	if err != nil {
		appLog.Error("api zones: listing failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list zones")
		return
	}
	if names == nil {
		names = []string{}
	}
	s.namesCache = &namesEntry{names: names, updatedAt: now}
	writeJSON(w, http.StatusOK, zoneNamesResponse{Zones: names})
}

// handleZoneICS serves one VTIMEZONE as a calendar.
//
// GET /zones/{tzid}.ics?from=RFC3339&to=RFC3339&encoder=go-ical
func (s *Server) handleZoneICS(w http.ResponseWriter, r *http.Request) {
	tzid, ok := strings.CutSuffix(r.PathValue("tzid"), ".ics")
	if !ok {
		http.NotFound(w, r)
		return
	}

	encName := r.URL.Query().Get("encoder")
	if encName == "" {
		encName = s.cfg.Encoder
	}
	enc, err := ics.NewEncoder(encName, s.cfg.ProductID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tree, ok := s.tree(w, r, tzid)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, tree); err != nil {
		appLog.Error("api zone: encode failed", err, "tzid", tzid, "encoder", encName)
		writeError(w, http.StatusInternalServerError, "failed to encode zone")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleZoneJSON serves the component tree of one zone.
func (s *Server) handleZoneJSON(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.tree(w, r, r.PathValue("tzid"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// tree parses the window from the query and builds (or reuses) the tree.
// On failure it writes the error response and returns false.
func (s *Server) tree(w http.ResponseWriter, r *http.Request, tzid string) (*vtimezone.Timezone, bool) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return nil, false
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return nil, false
	}

	now := s.now()
	key := treeKey{tzid: tzid, from: from.UTC(), to: to.UTC()}

	s.treeMu.Lock()
	e, hit := s.treeCache[key]
	s.treeMu.Unlock()
	if hit && now.Sub(e.updatedAt) < zoneCacheTTL {
		return e.tree, true
	}

	tree, err := vtimezone.BuildNamed(s.zones, tzid, vtimezone.BuildConfig{
		Window: vtimezone.Window{First: from, Last: to},
		Now:    func() time.Time { return now },
	})
	switch {
	case err == nil:
	case errors.Is(err, tzdb.ErrUnknownZone):
		writeError(w, http.StatusNotFound, "unknown time zone")
		return nil, false
	case errors.Is(err, vtimezone.ErrInvertedWindow):
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	default:
		appLog.Error("api zone: build failed", err, "tzid", tzid)
		writeError(w, http.StatusInternalServerError, "failed to build zone")
		return nil, false
	}

	s.treeMu.Lock()
	for k, old := range s.treeCache {
		if now.Sub(old.updatedAt) >= zoneCacheTTL {
			delete(s.treeCache, k)
		}
	}
	s.treeCache[key] = treeEntry{tree: tree, updatedAt: now}
	s.treeMu.Unlock()

	return tree, true
}

// handleExport serves the last export produced by the refresh loop.
func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	var res *export.Result
	if s.exports != nil {
		res = s.exports.Last()
	}
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no export available yet")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Last-Modified", res.GeneratedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Bytes)
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
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
