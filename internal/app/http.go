package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wellspring/api/internal/executor"
	"wellspring/api/internal/search"
	"wellspring/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	syncToken  string
}

func NewHTTPServer(service *Service, corsOrigin, syncToken string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, syncToken: syncToken}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method != http.MethodGet && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid sync token", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[1] == "chapters" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleListChapters(w, r)
	case parts[1] == "chapters" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleCreateChapter(w, r)
	case parts[1] == "chapters" && len(parts) == 3 && r.Method == http.MethodGet:
		s.handleGetChapter(w, r, parts[2])
	case parts[1] == "chapters" && len(parts) == 3 && r.Method == http.MethodPut:
		s.handleUpdateChapter(w, r, parts[2])
	case parts[1] == "chapters" && len(parts) == 4 && parts[3] == "advance" && r.Method == http.MethodPost:
		s.handleAdvance(w, r, parts[2], false)
	case parts[1] == "chapters" && len(parts) == 4 && parts[3] == "force-step" && r.Method == http.MethodPost:
		s.handleAdvance(w, r, parts[2], true)
	case parts[1] == "chapters" && len(parts) == 4 && parts[3] == "timeline" && r.Method == http.MethodGet:
		s.handleTimeline(w, r, parts[2])
	case parts[1] == "chapters" && len(parts) == 4 && parts[3] == "contract-history" && r.Method == http.MethodGet:
		s.handleContractHistory(w, r, parts[2])
	case parts[1] == "chapters" && len(parts) == 4 && parts[3] == "communications" && r.Method == http.MethodGet:
		s.handleCommunications(w, r, parts[2])
	case parts[1] == "tasks" && len(parts) == 3 && parts[2] == "execute" && r.Method == http.MethodPost:
		s.handleExecuteTask(w, r)
	case parts[1] == "deadlines" && len(parts) == 3 && r.Method == http.MethodPut:
		s.handleSetDeadline(w, r, parts[2])
	case parts[1] == "search" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleSearch(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		token = r.Header.Get("X-Sync-Token")
	}
	if s.syncToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.syncToken)) == 1
}

func (s *HTTPServer) handleListChapters(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ChapterFilter{
		AssignedOwner: query.Get("owner"),
		ReportState:   query.Get("state"),
		OverdueOnly:   query.Get("overdue") == "true",
	}
	chapters, err := s.service.ListChapters(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": chapters})
}

func (s *HTTPServer) handleCreateChapter(w http.ResponseWriter, r *http.Request) {
	var input CreateChapterInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	chapter, err := s.service.CreateChapter(r.Context(), input)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chapter)
}

func (s *HTTPServer) handleGetChapter(w http.ResponseWriter, r *http.Request, chapterID string) {
	chapter, err := s.service.GetChapter(r.Context(), chapterID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chapter)
}

func (s *HTTPServer) handleUpdateChapter(w http.ResponseWriter, r *http.Request, chapterID string) {
	var input struct {
		AuthorName    string `json:"authorName"`
		AuthorEmail   string `json:"authorEmail"`
		AssignedOwner string `json:"assignedOwner"`
		Notes         string `json:"notes"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := s.service.UpdateChapterFields(r.Context(), chapterID,
		input.AuthorName, input.AuthorEmail, input.AssignedOwner, input.Notes); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAdvance(w http.ResponseWriter, r *http.Request, chapterID string, forced bool) {
	var input struct {
		TargetStep string `json:"targetStep"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if input.TargetStep == "" {
		writeError(w, http.StatusBadRequest, "CONFIGURATION", "targetStep is required", nil)
		return
	}

	var result AdvanceResult
	var err error
	if forced {
		result, err = s.service.ForceChapter(r.Context(), chapterID, input.TargetStep)
	} else {
		result, err = s.service.AdvanceChapter(r.Context(), chapterID, input.TargetStep)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request, chapterID string) {
	signing := time.Time{}
	if raw := r.URL.Query().Get("signing"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "signing must be YYYY-MM-DD", nil)
			return
		}
		signing = parsed
	}
	tl, err := s.service.ChapterTimeline(r.Context(), chapterID, signing)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (s *HTTPServer) handleContractHistory(w http.ResponseWriter, r *http.Request, chapterID string) {
	limit := intQuery(r, "limit", 50)
	history, err := s.service.ContractHistory(chapterID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": history})
}

func (s *HTTPServer) handleCommunications(w http.ResponseWriter, r *http.Request, chapterID string) {
	limit := intQuery(r, "limit", 50)
	entries, err := s.service.Communications(r.Context(), chapterID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"communications": entries})
}

func (s *HTTPServer) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var task executor.Task
	if err := decodeBody(r, &task); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := s.service.ExecuteTask(r.Context(), task)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSetDeadline(w http.ResponseWriter, r *http.Request, reportState string) {
	var input struct {
		Deadline string `json:"deadline"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	deadline, err := time.Parse("2006-01-02", input.Deadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "deadline must be YYYY-MM-DD", nil)
		return
	}
	if err := s.service.SetJurisdictionDeadline(r.Context(), reportState, deadline); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	response := s.service.Search(search.Query{
		Text:            query.Get("q"),
		FilterType:      search.ResultType(query.Get("type")),
		FilterChapterID: query.Get("chapterId"),
		Limit:           intQuery(r, "limit", 20),
		Offset:          intQuery(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Sync-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return http.StatusBadGateway, "UPSTREAM", upstreamErr.Error(), nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
