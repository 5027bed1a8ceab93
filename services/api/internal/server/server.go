package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"

	"jobmatch/internal/ratelimit"
	"jobmatch/internal/util"
	"jobmatch/services/api/internal/app"
)

const (
	defaultMaxUploadBytes = 10 << 20
	maxJSONBodyBytes      = 1 << 20
)

// Limiter throttles expensive endpoints. *ratelimit.FixedWindowLimiter implements it.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	// Limiter is optional; nil disables throttling of /api/match and CV uploads.
	Limiter        Limiter
	TrustedProxies *util.TrustedProxies
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

// Server exposes the candidate, job and matching API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	limiter        Limiter
	trustedProxies *util.TrustedProxies
	metrics        http.Handler
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		metrics:        cfg.Metrics,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}

	// candidates
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserByID)

	// jobs
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)

	// matching
	s.mux.Handle("/api/match", s.withRateLimit("match", http.HandlerFunc(s.handleRunMatch)))
	s.mux.HandleFunc("/api/matches", s.handleMatches)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withRateLimit(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		key := scope + ":" + util.ClientIP(r, s.trustedProxies)
		decision, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "scope", scope, "error", err)
		}
		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			}
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// /api/users
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		candidates, err := s.app.ListCandidates(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(candidates))
	case http.MethodPost:
		var req app.CandidateInput
		if !decodeJSON(w, r, &req) {
			return
		}
		candidate, err := s.app.CreateCandidate(r.Context(), req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, candidate)
	default:
		methodNotAllowed(w)
	}
}

// /api/users/{id}, /api/users/{id}/upload-cv or /api/users/{id}/cv
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitIDPath(r.URL.Path, "/api/users/")
	if !ok {
		notFound(w, "not found")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteCandidate(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	case "upload-cv":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.withRateLimit("upload", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.handleUploadCV(w, r, id)
		})).ServeHTTP(w, r)
	case "cv":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleDownloadCV(w, r, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleUploadCV(w http.ResponseWriter, r *http.Request, id int64) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("cv")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	result, err := s.app.UploadCV(r.Context(), id, header.Filename, data)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		CVText:  result.CVText,
		Path:    result.Path,
		Warning: result.Warning,
	})
}

func (s *Server) handleDownloadCV(w http.ResponseWriter, r *http.Request, id int64) {
	data, key, err := s.app.DownloadCV(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// /api/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.app.ListJobs(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(jobs))
	case http.MethodPost:
		var req app.JobInput
		if !decodeJSON(w, r, &req) {
			return
		}
		job, err := s.app.CreateJob(r.Context(), req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	default:
		methodNotAllowed(w)
	}
}

// /api/jobs/{id} or /api/jobs/{id}/status
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitIDPath(r.URL.Path, "/api/jobs/")
	if !ok {
		notFound(w, "not found")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteJob(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var req statusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		job, err := s.app.SetJobStatus(r.Context(), id, req.Status)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleRunMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	count, err := s.app.RunMatching(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchRunResponse{Success: true, MatchCount: count})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	matches, err := s.app.ListMatches(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(matches))
}

// splitIDPath parses "{prefix}{id}" or "{prefix}{id}/{action}".
func splitIDPath(urlPath, prefix string) (int64, string, bool) {
	rest := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

type successResponse struct {
	Success bool `json:"success"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	CVText  string `json:"cvText"`
	Path    string `json:"path"`
	Warning string `json:"warning,omitempty"`
}

type matchRunResponse struct {
	Success    bool `json:"success"`
	MatchCount int  `json:"matchCount"`
}

type statusRequest struct {
	Status string `json:"status"`
}
