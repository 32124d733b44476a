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
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"redline/internal/search"
	"redline/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
			"queue":    map[string]any{"status": "ok"},
		}

		if err := s.service.PingDB(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.PingQueue(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["queue"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Webhook from the annotation tool. Authenticated with the shared
	// service token, not a user session.
	if r.Method == http.MethodPost && r.URL.Path == "/api/extract" {
		token := strings.TrimSpace(r.Header.Get("x-redline-service-token"))
		if !tokenEqual(token, s.service.ServiceToken()) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		var body struct {
			ProjectID string `json:"projectId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		queued, err := s.service.RequestExtraction(r.Context(), body.ProjectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		projects, err := s.service.Projects(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(projects))
		for _, p := range projects {
			payload = append(payload, projectView(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/errors" {
		limit, err := queryLimit(r, 50)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		events, err := s.service.Errors(r.Context(), limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(events))
		for _, e := range events {
			payload = append(payload, eventView(e))
		}
		writeJSON(w, http.StatusOK, map[string]any{"errors": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
			return
		}
		limit, err := queryLimit(r, 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		response, err := s.service.Search(search.Query{
			Text:      q,
			ProjectID: strings.TrimSpace(r.URL.Query().Get("projectId")),
			Limit:     limit,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/threads/{id}
	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "threads" {
		thread, err := s.service.Thread(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, threadView(thread))
		return
	}

	// /api/projects/{id}[/threads|/sessions]
	if r.Method == http.MethodGet && len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]
		switch {
		case len(parts) == 3:
			project, err := s.service.Project(r.Context(), projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, projectView(project))
			return
		case len(parts) == 4 && parts[3] == "threads":
			threads, err := s.service.Threads(r.Context(), projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(threads))
			for _, t := range threads {
				payload = append(payload, threadView(t))
			}
			writeJSON(w, http.StatusOK, map[string]any{"threads": payload})
			return
		case len(parts) == 4 && parts[3] == "sessions":
			limit, err := queryLimit(r, 20)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			sessions, err := s.service.Sessions(r.Context(), projectID, limit)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(sessions))
			for _, sess := range sessions {
				payload = append(payload, sessionView(sess))
			}
			writeJSON(w, http.StatusOK, map[string]any{"sessions": payload})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func projectView(p store.Project) map[string]any {
	view := map[string]any{
		"id":        p.ID,
		"name":      p.Name,
		"createdAt": p.CreatedAt,
	}
	if p.LastExtractedAt != nil {
		view["lastExtractedAt"] = p.LastExtractedAt
	}
	return view
}

func threadView(t store.Thread) map[string]any {
	comments := make([]map[string]any, 0, len(t.Comments))
	for _, c := range t.Comments {
		comments = append(comments, commentView(c))
	}
	view := map[string]any{
		"id":        t.ID,
		"projectId": t.ProjectID,
		"name":      t.Name,
		"matched":   t.Matched,
		"comments":  comments,
		"createdAt": t.CreatedAt,
	}
	if t.Matched {
		view["imagePath"] = t.ImagePath
		view["imageFilename"] = t.ImageFilename
		view["imageIndex"] = t.ImageIndex
	}
	return view
}

func commentView(c store.PinComment) map[string]any {
	attachments := make([]string, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		attachments = append(attachments, a.URL)
	}
	view := map[string]any{
		"id":          c.ID,
		"pin":         c.PinNumber,
		"author":      c.Author,
		"body":        c.Body,
		"attachments": attachments,
	}
	if c.TranslatedBody != "" {
		view["translatedBody"] = c.TranslatedBody
	}
	return view
}

func sessionView(s store.ExtractionSession) map[string]any {
	return map[string]any{
		"id":         s.ID,
		"projectId":  s.ProjectID,
		"status":     s.Status,
		"expected":   s.Expected,
		"matched":    s.Matched,
		"unmatched":  nonNilStrings(s.Unmatched),
		"attempts":   s.Attempts,
		"limit":      s.Limit,
		"detail":     s.Detail,
		"startedAt":  s.StartedAt,
		"finishedAt": s.FinishedAt,
	}
}

func eventView(e store.ErrorEvent) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"operation": e.Operation,
		"projectId": e.ProjectID,
		"matched":   nonNilStrings(e.Matched),
		"unmatched": nonNilStrings(e.Unmatched),
		"attempts":  e.Attempts,
		"limit":     e.Limit,
		"detail":    e.Detail,
		"createdAt": e.CreatedAt,
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return parsed, nil
}

func tokenEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-redline-service-token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
