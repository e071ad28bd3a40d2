package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"copydesk/api/internal/auth"
	"copydesk/api/internal/authpw"
	"copydesk/api/internal/content"
	"copydesk/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (h *HTTPServer) Handler() http.Handler {
	return withMiddleware(h.corsOrigin, http.HandlerFunc(h.route))
}

func (h *HTTPServer) route(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case path == "/api/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case path == "/api/ready" && r.Method == http.MethodGet:
		h.handleReady(w, r)

	case path == "/api/auth/signup" && r.Method == http.MethodPost:
		h.handleSignUp(w, r)
	case path == "/api/auth/signin" && r.Method == http.MethodPost:
		h.handleSignIn(w, r)
	case path == "/api/auth/verify-email" && r.Method == http.MethodPost:
		h.handleVerifyEmail(w, r)
	case path == "/api/auth/reset-password/request" && r.Method == http.MethodPost:
		h.handleRequestPasswordReset(w, r)
	case path == "/api/auth/reset-password" && r.Method == http.MethodPost:
		h.handleResetPassword(w, r)
	case path == "/api/session/refresh" && r.Method == http.MethodPost:
		h.handleRefresh(w, r)
	case path == "/api/session/logout" && r.Method == http.MethodPost:
		h.handleLogout(w, r)
	case path == "/api/session" && r.Method == http.MethodGet:
		h.handleSessionInfo(w, r)

	case path == "/api/conversations" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleListConversations)
	case path == "/api/conversations" && r.Method == http.MethodPost:
		h.authed(w, r, h.handleNewConversation)
	default:
		h.routeRest(w, r, path)
	}
}

func (h *HTTPServer) routeRest(w http.ResponseWriter, r *http.Request, path string) {
	parts := splitPath(path)

	switch {
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "conversations" && r.Method == http.MethodGet:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleGetConversation(w, r, sess, parts[2])
		})
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "conversations" && r.Method == http.MethodPatch:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleRenameConversation(w, r, sess, parts[2])
		})
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "conversations" && r.Method == http.MethodDelete:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleDeleteConversation(w, r, sess, parts[2])
		})
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "conversations" && parts[3] == "messages" && r.Method == http.MethodPost:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleSendMessage(w, r, sess, parts[2])
		})

	case path == "/api/content" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleContentStats)
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "content" && r.Method == http.MethodGet:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleListContent(w, r, parts[2])
		})
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "content" && r.Method == http.MethodGet:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleGetContent(w, r, parts[2], parts[3])
		})

	case path == "/api/search" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleSearch)

	case path == "/api/drafts" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleListDrafts)
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "drafts" && r.Method == http.MethodGet:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleGetDraft(w, r, sess, parts[2])
		})
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "drafts" && parts[3] == "approve" && r.Method == http.MethodPost:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleApproveDraft(w, r, sess, parts[2])
		})
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "drafts" && parts[3] == "reject" && r.Method == http.MethodPost:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleRejectDraft(w, r, sess, parts[2])
		})
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "drafts" && parts[3] == "image" && r.Method == http.MethodPost:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleDraftImage(w, r, sess, parts[2])
		})

	case path == "/api/users" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleListUsers)
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && parts[3] == "role" && r.Method == http.MethodPut:
		h.authed(w, r, func(w http.ResponseWriter, r *http.Request, sess Session) {
			h.handleSetUserRole(w, r, sess, parts[2])
		})

	case path == "/api/audit" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleAudit)

	case path == "/api/git/status" && r.Method == http.MethodGet:
		h.authed(w, r, h.handleGitStatus)
	case path == "/api/git/push" && r.Method == http.MethodPost:
		h.authed(w, r, h.handleGitPush)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// --- infrastructure and auth ---

func (h *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		LocalGroup  string `json:"localGroup"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	payload, err := h.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		LocalGroup:  body.LocalGroup,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "An account with this email already exists", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"role":         sess.Role,
		"localGroup":   sess.Group,
		"expiresAt":    sess.ExpiresAt.Format(time.RFC3339),
	}
}

func (h *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := h.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (h *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (h *HTTPServer) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (h *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (h *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.Logout(r.Context(), body.RefreshToken); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loggedOut": true})
}

func (h *HTTPServer) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":     sess.UserID,
		"userName":   sess.UserName,
		"role":       sess.Role,
		"localGroup": sess.Group,
		"expiresAt":  sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
		return Session{}, false
	}
	sess, err := h.service.SessionFromToken(r.Context(), token)
	if err != nil {
		mapError(w, err)
		return Session{}, false
	}
	return sess, true
}

func (h *HTTPServer) authed(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request, Session)) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	next(w, r, sess)
}

// --- conversations ---

func (h *HTTPServer) handleListConversations(w http.ResponseWriter, r *http.Request, sess Session) {
	items, err := h.service.ListConversations(r.Context(), sess)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (h *HTTPServer) handleNewConversation(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	payload, err := h.service.SendMessage(r.Context(), sess, "", body.Text)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (h *HTTPServer) handleGetConversation(w http.ResponseWriter, r *http.Request, sess Session, conversationID string) {
	payload, err := h.service.ConversationMessages(r.Context(), sess, conversationID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPServer) handleRenameConversation(w http.ResponseWriter, r *http.Request, sess Session, conversationID string) {
	var body struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.RenameConversation(r.Context(), sess, conversationID, body.Title); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renamed": true})
}

func (h *HTTPServer) handleDeleteConversation(w http.ResponseWriter, r *http.Request, sess Session, conversationID string) {
	if err := h.service.DeleteConversation(r.Context(), sess, conversationID); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request, sess Session, conversationID string) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	payload, err := h.service.SendMessage(r.Context(), sess, conversationID, body.Text)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// --- content ---

func (h *HTTPServer) handleContentStats(w http.ResponseWriter, r *http.Request, sess Session) {
	stats, err := h.service.ContentStats(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": stats})
}

func (h *HTTPServer) handleListContent(w http.ResponseWriter, r *http.Request, contentType string) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	payload, err := h.service.ListContent(r.Context(), content.ListRequest{
		Type:     contentType,
		Limit:    limit,
		Sort:     q.Get("sort"),
		Group:    q.Get("group"),
		Category: q.Get("category"),
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPServer) handleGetContent(w http.ResponseWriter, r *http.Request, contentType, slug string) {
	item, err := h.service.GetContent(r.Context(), contentType, slug)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	resp := h.service.Search(r.Context(), search.Query{
		Text:  q.Get("q"),
		Type:  q.Get("type"),
		Group: q.Get("group"),
		Limit: limit,
	})
	writeJSON(w, http.StatusOK, resp)
}

// --- drafts ---

func (h *HTTPServer) handleListDrafts(w http.ResponseWriter, r *http.Request, sess Session) {
	items, err := h.service.ListDrafts(r.Context(), sess, r.URL.Query().Get("status"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": items})
}

func (h *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request, sess Session, draftID string) {
	payload, err := h.service.GetDraft(r.Context(), sess, draftID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPServer) handleApproveDraft(w http.ResponseWriter, r *http.Request, sess Session, draftID string) {
	var body struct {
		Note string `json:"note"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	payload, err := h.service.ApproveDraft(r.Context(), sess, draftID, body.Note)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPServer) handleRejectDraft(w http.ResponseWriter, r *http.Request, sess Session, draftID string) {
	var body struct {
		Note string `json:"note"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	payload, err := h.service.RejectDraft(r.Context(), sess, draftID, body.Note)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

const maxImageUpload = 10 << 20

func (h *HTTPServer) handleDraftImage(w http.ResponseWriter, r *http.Request, sess Session, draftID string) {
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Expected a multipart upload", nil)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "An image file is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageUpload))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Could not read the upload", nil)
		return
	}
	payload, err := h.service.AttachDraftImage(r.Context(), sess, draftID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// --- admin ---

func (h *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, sess Session) {
	items, err := h.service.ListUsers(r.Context(), sess)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": items})
}

func (h *HTTPServer) handleSetUserRole(w http.ResponseWriter, r *http.Request, sess Session, userID string) {
	var body struct {
		Role       string `json:"role"`
		LocalGroup string `json:"localGroup"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.service.SetUserRole(r.Context(), sess, userID, body.Role, body.LocalGroup); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *HTTPServer) handleGitStatus(w http.ResponseWriter, r *http.Request, sess Session) {
	payload, err := h.service.GitStatus(r.Context(), sess)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPServer) handleGitPush(w http.ResponseWriter, r *http.Request, sess Session) {
	payload, err := h.service.PushPending(r.Context(), sess)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request, sess Session) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	items, err := h.service.AuditLog(r.Context(), sess, query.Get("contentType"), query.Get("slug"), limit)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

// --- helpers ---

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"error":   code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

func mapError(w http.ResponseWriter, err error) {
	var domain *DomainError
	if errors.As(err, &domain) {
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, content.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Session is invalid or expired", nil)
	case strings.HasPrefix(err.Error(), "unknown content type"):
		writeError(w, http.StatusNotFound, "UNKNOWN_TYPE", err.Error(), nil)
	default:
		log.Printf("http: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Something went wrong", nil)
	}
}

// --- middleware ---

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
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func setCORSHeaders(w http.ResponseWriter, origin string) {
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func withMiddleware(corsOrigin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		setCORSHeaders(w, corsOrigin)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))

		log.Printf(`{"requestId":%q,"method":%q,"path":%q,"status":%d,"durationMs":%d}`,
			requestID, r.Method, r.URL.Path, recorder.status, time.Since(start).Milliseconds())
	})
}
