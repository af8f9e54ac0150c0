package app

import (
	"context"
	"crypto/rand"
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

	"quadro/api/internal/auth"
	"quadro/api/internal/authpw"
	"quadro/api/internal/session"
	"quadro/api/internal/store"
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
		writeData(w, http.StatusNoContent, nil)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Backing services unavailable")
			return
		}
		writeData(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	// Auth routes, no session required.
	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/auth/signup":
			s.handleAuthSignUp(w, r)
			return
		case "/api/auth/signin":
			s.handleAuthSignIn(w, r)
			return
		case "/api/auth/verify-email":
			s.handleAuthVerifyEmail(w, r)
			return
		case "/api/auth/reset-password/request":
			s.handleAuthRequestReset(w, r)
			return
		case "/api/auth/reset-password":
			s.handleAuthResetPassword(w, r)
			return
		case "/api/auth/refresh":
			s.handleAuthRefresh(w, r)
			return
		case "/api/auth/logout":
			s.handleAuthLogout(w, r)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeData(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeData(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"userName":      sess.UserName,
		})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, sess)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch parts[1] {
	case "boards":
		s.handleBoards(w, r, sess, parts)
	case "lists":
		s.handleLists(w, r, sess, parts)
	case "cards":
		s.handleCards(w, r, sess, parts)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// handleBoards dispatches /api/boards and everything nested under a board.
func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	// /api/boards
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListBoards(r.Context(), sess)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				Name  string `json:"name"`
				Color string `json:"color"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.CreateBoard(r.Context(), sess, strings.TrimSpace(body.Name), strings.TrimSpace(body.Color))
			s.respond(w, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	boardID := parts[2]

	// /api/boards/{id}
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetBoardSnapshot(r.Context(), sess, boardID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var body struct {
				Name  string `json:"name"`
				Color string `json:"color"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.UpdateBoard(r.Context(), sess, boardID, strings.TrimSpace(body.Name), strings.TrimSpace(body.Color))
			s.respond(w, http.StatusOK, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/boards/{id}/members
	if len(parts) == 4 && parts[3] == "members" && r.Method == http.MethodPost {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := s.service.InviteBoardMember(r.Context(), sess, boardID, strings.TrimSpace(body.Email))
		s.respond(w, http.StatusOK, payload, err)
		return
	}

	// /api/boards/{id}/events
	if len(parts) == 4 && parts[3] == "events" && r.Method == http.MethodGet {
		s.handleBoardEvents(w, r, sess, boardID)
		return
	}

	// /api/boards/{id}/lists
	if len(parts) == 4 && parts[3] == "lists" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListsForBoard(r.Context(), sess, boardID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.CreateList(r.Context(), sess, boardID, strings.TrimSpace(body.Name))
			s.respond(w, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/boards/{boardID}/lists/{listID}/move
	if len(parts) == 6 && parts[3] == "lists" && parts[5] == "move" && r.Method == http.MethodPost {
		var body struct {
			DestinationIndex *int `json:"destinationIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.DestinationIndex == nil {
			writeError(w, http.StatusBadRequest, "destinationIndex is required")
			return
		}
		payload, err := s.service.MoveList(r.Context(), sess, boardID, parts[4], *body.DestinationIndex)
		s.respond(w, http.StatusOK, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "Not found")
}

func (s *HTTPServer) handleLists(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	listID := parts[2]

	// /api/lists/{id}
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.RenameList(r.Context(), sess, listID, strings.TrimSpace(body.Name))
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteList(r.Context(), sess, listID)
			s.respond(w, http.StatusOK, map[string]any{"deleted": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/lists/{id}/cards
	if len(parts) == 4 && parts[3] == "cards" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.CardsForList(r.Context(), sess, listID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPost:
			var body struct {
				Name        string     `json:"name"`
				Description string     `json:"description"`
				DueDate     *time.Time `json:"dueDate"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.CreateCard(r.Context(), sess, listID, strings.TrimSpace(body.Name), body.Description, body.DueDate)
			s.respond(w, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	writeError(w, http.StatusNotFound, "Not found")
}

func (s *HTTPServer) handleCards(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	cardID := parts[2]

	// /api/cards/{id}
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetCard(r.Context(), sess, cardID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var body struct {
				Name        string     `json:"name"`
				Description string     `json:"description"`
				DueDate     *time.Time `json:"dueDate"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			payload, err := s.service.UpdateCard(r.Context(), sess, cardID, strings.TrimSpace(body.Name), body.Description, body.DueDate)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteCard(r.Context(), sess, cardID)
			s.respond(w, http.StatusOK, map[string]any{"deleted": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/cards/{id}/move
	if len(parts) == 4 && parts[3] == "move" && r.Method == http.MethodPost {
		var body struct {
			SourceListID      string `json:"sourceListId"`
			DestinationListID string `json:"destinationListId"`
			DestinationIndex  *int   `json:"destinationIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.DestinationIndex == nil {
			writeError(w, http.StatusBadRequest, "destinationIndex is required")
			return
		}
		payload, err := s.service.MoveCard(r.Context(), sess, cardID, body.DestinationListID, *body.DestinationIndex)
		s.respond(w, http.StatusOK, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "Not found")
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	boardID := strings.TrimSpace(r.URL.Query().Get("boardId"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		offset = parsed
	}

	payload, err := s.service.Search(r.Context(), sess, q, filterType, boardID, limit, offset)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeData(w, http.StatusOK, payload)
}

// handleBoardEvents streams board events over SSE. The first event is always
// a full replica snapshot; subsequent events mirror peer mutations.
func (s *HTTPServer) handleBoardEvents(w http.ResponseWriter, r *http.Request, sess Session, boardID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sub, state, err := s.service.JoinBoard(r.Context(), sess, boardID)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	defer s.service.LeaveBoard(context.Background(), sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "sync", state)
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			s.service.HeartbeatBoard(r.Context(), sub)
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("http: marshal sse payload: %v", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		// EventSource cannot set headers; the events route accepts the
		// access token as a query parameter.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "Session lookup failed")
		return Session{}, false
	}
	return sess, true
}

// respond writes payload on success with the given status, or maps err onto
// the error envelope.
func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		errStatus, message := mapError(err)
		writeError(w, errStatus, message)
		return
	}
	writeData(w, status, payload)
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

// Flush keeps SSE working behind the logging middleware.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

// writeData wraps a payload in the response envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statusCode": status,
		"data":       data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statusCode": status,
		"message":    message,
	})
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

func mapError(err error) (status int, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message
	}
	if errors.Is(err, store.ErrPositionOutOfRange) {
		return http.StatusBadRequest, "Destination index out of range"
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found"
	}
	if errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "Unauthorized"
	}
	return http.StatusInternalServerError, "Server error"
}

// Auth handlers for email/password authentication.

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       strings.TrimSpace(body.Email),
		Password:    body.Password,
		DisplayName: strings.TrimSpace(body.DisplayName),
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// No SMTP in this deployment; the verification token rides back in the
	// response for the client to relay.
	writeData(w, http.StatusCreated, map[string]any{
		"userId":            resp.UserID,
		"verificationToken": resp.VerificationToken,
		"message":           "Account created. Verify your email to continue.",
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.service.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    strings.TrimSpace(body.Email),
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "Please verify your email before signing in")
		return
	}

	sess, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"expiresAt":    sess.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, _ := s.service.AuthPasswordService().RequestPasswordReset(r.Context(), strings.TrimSpace(body.Email))

	payload := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token != "" {
		payload["resetToken"] = token
	}
	writeData(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.AuthPasswordService().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})
}

func (s *HTTPServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh token invalid")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"expiresAt":    sess.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	sess := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			sess = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), sess, body.RefreshToken)
	writeData(w, http.StatusOK, map[string]any{"ok": true})
}
