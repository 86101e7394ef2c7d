package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"synkdocs/api/internal/auth"
	"synkdocs/api/internal/prosemirror"
	"synkdocs/api/internal/rbac"
)

const (
	headerFormatterVersion = "X-Formatter-Version"
	headerFormatterCache   = "X-Formatter-Cache"
	headerExportArchiveURL = "X-Export-Archive-Url"
)

type HTTPServer struct {
	service      *Service
	corsOrigin   string
	maxBodyBytes int64
	metrics      http.Handler
	log          logrus.FieldLogger
}

// NewHTTPServer builds the API handler. metricsHandler serves GET /metrics
// and may be nil.
func NewHTTPServer(service *Service, corsOrigin string, metricsHandler http.Handler) *HTTPServer {
	maxBody := service.cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &HTTPServer{
		service:      service,
		corsOrigin:   corsOrigin,
		maxBodyBytes: maxBody,
		metrics:      metricsHandler,
		log:          service.log,
	}
}

// DefaultMetricsHandler serves the default Prometheus registry.
func DefaultMetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	isRead := r.Method == http.MethodGet || r.Method == http.MethodHead

	if isRead && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if isRead && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if isRead && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if isRead && r.URL.Path == "/api/formatter/version" {
		writeJSON(w, http.StatusOK, map[string]any{"version": prosemirror.Version()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/format" {
		s.handleFormat(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query.Get("q"), limit, offset))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, session, parts[2:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "notifications" {
		s.handleNotifications(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, degraded, checks := s.service.Readiness(ctx)
	status := "ready"
	statusCode := http.StatusOK
	switch {
	case !ready:
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleFormat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(headerFormatterVersion, prosemirror.Version())

	input, err := s.readBody(w, r)
	if err != nil {
		s.writeBodyError(w, err)
		return
	}
	result, err := s.service.Format(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	cacheState := "miss"
	if result.Cached {
		cacheState = "hit"
	}
	w.Header().Set(headerFormatterCache, cacheState)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Output)
}

// readSaveInput decodes a save body. It writes the error response itself and
// reports false when the body is unusable.
func (s *HTTPServer) readSaveInput(w http.ResponseWriter, r *http.Request) (SaveInput, bool) {
	raw, err := s.readBody(w, r)
	if err != nil {
		s.writeBodyError(w, err)
		return SaveInput{}, false
	}
	var body struct {
		Title         string          `json:"title"`
		Content       json.RawMessage `json:"content"`
		Snapshot      bool            `json:"snapshot"`
		ChangeSummary string          `json:"changeSummary"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return SaveInput{}, false
	}
	return SaveInput{
		Title:         body.Title,
		Content:       body.Content,
		Snapshot:      body.Snapshot,
		ChangeSummary: body.ChangeSummary,
	}, true
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// /api/documents
	if len(parts) == 0 && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, rbac.ActionWrite)
			return
		}
		input, ok := s.readSaveInput(w, r)
		if !ok {
			return
		}
		payload, err := s.service.CreateDocument(r.Context(), session, input)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		items, err := s.service.ListDocuments(r.Context(), limit, offset)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	documentID := parts[0]

	// /api/documents/{id}
	if len(parts) == 1 && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		payload, err := s.service.GetDocument(r.Context(), documentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/documents/{id}
	if len(parts) == 1 && r.Method == http.MethodDelete {
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			s.forbid(w, r, session, rbac.ActionAdmin)
			return
		}
		if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "documentId": documentID})
		return
	}

	// /api/documents/{id}/save
	if len(parts) == 2 && parts[1] == "save" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, rbac.ActionWrite)
			return
		}
		input, ok := s.readSaveInput(w, r)
		if !ok {
			return
		}
		payload, err := s.service.SaveDocument(r.Context(), session, documentID, input)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/documents/{id}/versions
	if len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		items, err := s.service.ListVersions(r.Context(), documentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "versions": items})
		return
	}

	// /api/documents/{id}/versions/{hash}
	if len(parts) == 3 && parts[1] == "versions" && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		payload, err := s.service.GetVersion(r.Context(), documentID, parts[2])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/documents/{id}/versions/{hash}/restore
	if len(parts) == 4 && parts[1] == "versions" && parts[3] == "restore" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, rbac.ActionWrite)
			return
		}
		payload, err := s.service.RestoreVersion(r.Context(), session, documentID, parts[2])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) >= 2 && parts[1] == "threads" {
		s.handleThreads(w, r, session, documentID, parts[2:])
		return
	}

	// /api/documents/{id}/compare?from=&to=
	if len(parts) == 2 && parts[1] == "compare" && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		query := r.URL.Query()
		result, err := s.service.Compare(r.Context(), documentID, query.Get("from"), query.Get("to"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// /api/documents/{id}/export
	if len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionExport) {
			s.forbid(w, r, session, rbac.ActionExport)
			return
		}
		var body struct {
			Format  string `json:"format"`
			Version string `json:"version"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Export(r.Context(), documentID, body.Format, body.Version)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if result.ArchiveURL != "" {
			w.Header().Set(headerExportArchiveURL, result.ArchiveURL)
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleThreads(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	// /api/documents/{id}/threads
	if len(parts) == 0 && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		items, err := s.service.ListThreads(r.Context(), documentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "threads": items})
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionComment) {
		s.forbid(w, r, session, rbac.ActionComment)
		return
	}

	var (
		payload map[string]any
		err     error
		status  = http.StatusOK
	)
	switch {
	case len(parts) == 0:
		var body CreateThreadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.CreateThread(r.Context(), session, documentID, body)
		status = http.StatusCreated
	case len(parts) == 2 && parts[1] == "replies":
		var body ThreadReplyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.ReplyThread(r.Context(), session, documentID, parts[0], body)
		status = http.StatusCreated
	case len(parts) == 2 && parts[1] == "resolve":
		payload, err = s.service.ResolveThread(r.Context(), session, documentID, parts[0])
	case len(parts) == 2 && parts[1] == "reopen":
		payload, err = s.service.ReopenThread(r.Context(), documentID, parts[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// /api/notifications?unread=true
	if len(parts) == 0 && r.Method == http.MethodGet {
		unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
		items, err := s.service.ListNotifications(r.Context(), session, unreadOnly)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
		return
	}

	// /api/notifications/read-all
	if len(parts) == 1 && parts[0] == "read-all" && r.Method == http.MethodPost {
		updated, err := s.service.MarkAllNotificationsRead(r.Context(), session)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": updated})
		return
	}

	// /api/notifications/{id}/read
	if len(parts) == 2 && parts[1] == "read" && r.Method == http.MethodPost {
		if err := s.service.MarkNotificationRead(r.Context(), session, parts[0]); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.log.WithFields(logrus.Fields{
		"request_id": requestIDFromContext(r.Context()),
		"user_id":    session.UserID,
		"role":       session.Role,
		"action":     action,
		"path":       r.URL.Path,
	}).Warn("permission denied")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads the whole request body up to the configured limit.
func (s *HTTPServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func (s *HTTPServer) writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			fmt.Sprintf("request body exceeds %d bytes", s.maxBodyBytes), nil)
		return
	}
	writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Formatter-Version, X-Formatter-Cache, X-Export-Archive-Url")
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
