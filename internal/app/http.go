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

	"civicconnect/api/internal/auth"
	"civicconnect/api/internal/authpw"
	"civicconnect/api/internal/export"
	"civicconnect/api/internal/media"
	"civicconnect/api/internal/search"
	"civicconnect/api/internal/session"
	"civicconnect/api/internal/store"
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
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "handle": nil})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "handle": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"handle":        sess.Handle,
			"displayName":   sess.DisplayName,
			"role":          sess.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionView(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
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
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/leaderboard" {
		entries, err := s.service.Leaderboard(r.Context(), queryInt(r, "limit"))
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			items = append(items, map[string]any{
				"position":    entry.Position,
				"userId":      entry.UserID,
				"handle":      entry.Handle,
				"displayName": entry.DisplayName,
				"civicPoints": entry.CivicPoints,
				"civicRank":   entry.CivicRank,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		response, err := s.service.Search(search.Query{
			Text:           r.URL.Query().Get("q"),
			FilterType:     search.ResultType(r.URL.Query().Get("type")),
			FilterCategory: r.URL.Query().Get("category"),
			Limit:          queryInt(r, "limit"),
			Offset:         queryInt(r, "offset"),
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "media":
		if len(parts) == 3 && parts[2] == "proof" {
			switch r.Method {
			case http.MethodPost:
				s.handleProofUpload(w, r)
				return
			case http.MethodDelete:
				s.handleProofRemove(w, r)
				return
			}
		}
	case "activities":
		s.handleActivities(w, r, parts[2:])
		return
	case "users":
		s.handleUsers(w, r, parts[2:])
		return
	case "posts":
		s.handlePosts(w, r, parts[2:])
		return
	case "messages":
		s.handleMessages(w, r, parts[2:])
		return
	case "conversations":
		if len(parts) == 2 && r.Method == http.MethodGet {
			sess, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			summaries, err := s.service.Conversations(r.Context(), sess.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			items := make([]map[string]any, 0, len(summaries))
			for _, item := range summaries {
				items = append(items, map[string]any{
					"peerId":      item.PeerID,
					"peerHandle":  item.PeerHandle,
					"lastBody":    item.LastBody,
					"lastAt":      item.LastAt.Format(time.RFC3339),
					"unreadCount": item.UnreadCount,
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
			return
		}
	case "notifications":
		s.handleNotifications(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProofUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxProofSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "multipart field 'file' is required", nil)
		return
	}
	defer file.Close()

	key, url, err := s.service.UploadProof(r.Context(), sess.UserID, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": key, "url": url})
}

func (s *HTTPServer) handleProofRemove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.service.RemoveProof(r.Context(), sess, r.URL.Query().Get("key")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleActivities(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodPost:
			sess, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			var input SubmitActivityInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			activity, err := s.service.SubmitActivity(r.Context(), sess, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, activityView(activity))
			return
		case http.MethodGet:
			activities, err := s.service.ListActivities(r.Context(), store.ActivityFilter{
				OwnerID:  r.URL.Query().Get("owner"),
				Status:   r.URL.Query().Get("status"),
				Category: r.URL.Query().Get("category"),
				Limit:    queryInt(r, "limit"),
				Offset:   queryInt(r, "offset"),
			})
			if err != nil {
				s.fail(w, err)
				return
			}
			items := make([]map[string]any, 0, len(activities))
			for _, activity := range activities {
				items = append(items, activityView(activity))
			}
			writeJSON(w, http.StatusOK, map[string]any{"activities": items})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	activityID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		activity, endorsements, err := s.service.ActivityDetail(r.Context(), activityID)
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := activityView(activity)
		payload["endorsements"] = endorsementViews(endorsements)
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "endorsements":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		_, endorsements, err := s.service.ActivityDetail(r.Context(), activityID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"endorsements": endorsementViews(endorsements)})
		return
	case "approve", "reject", "endorse":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		switch parts[1] {
		case "approve":
			if !sess.CanVerify() {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Verifier role required", nil)
				return
			}
			activity, err := s.service.ApproveActivity(r.Context(), sess, activityID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, activityView(activity))
		case "reject":
			if !sess.CanVerify() {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Verifier role required", nil)
				return
			}
			var input RejectActivityInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			activity, err := s.service.RejectActivity(r.Context(), sess, activityID, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, activityView(activity))
		case "endorse":
			var input EndorseActivityInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			endorsement, err := s.service.EndorseActivity(r.Context(), sess, activityID, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, endorsementView(endorsement))
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && parts[0] == "me" && r.Method == http.MethodPut {
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var input UpdateProfileInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpdateProfile(r.Context(), sess, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userView(user))
		return
	}

	if len(parts) != 2 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "civic-stats":
		stats, err := s.service.CivicStats(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":               stats.UserID,
			"handle":               stats.Handle,
			"civicPoints":          stats.CivicPoints,
			"civicRank":            stats.CivicRank,
			"activitiesTotal":      stats.ActivitiesTotal,
			"activitiesPending":    stats.ActivitiesPending,
			"activitiesApproved":   stats.ActivitiesApproved,
			"activitiesRejected":   stats.ActivitiesRejected,
			"endorsementsGiven":    stats.EndorsementsGiven,
			"endorsementsReceived": stats.EndorsementsReceived,
		})
		return
	case "civic-report.pdf":
		result, err := s.service.CivicRecordPDF(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodPost:
			sess, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			var input CreatePostInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			post, err := s.service.CreatePost(r.Context(), sess, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, postView(post))
			return
		case http.MethodGet:
			posts, err := s.service.ListPosts(r.Context(), r.URL.Query().Get("author"), queryInt(r, "limit"), queryInt(r, "offset"))
			if err != nil {
				s.fail(w, err)
				return
			}
			items := make([]map[string]any, 0, len(posts))
			for _, post := range posts {
				items = append(items, postView(post))
			}
			writeJSON(w, http.StatusOK, map[string]any{"posts": items})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	postID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			post, comments, err := s.service.PostDetail(r.Context(), postID)
			if err != nil {
				s.fail(w, err)
				return
			}
			payload := postView(post)
			payload["comments"] = commentViews(comments)
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			sess, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			if err := s.service.DeletePost(r.Context(), sess, postID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "comments" {
		switch r.Method {
		case http.MethodPost:
			sess, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			var input CommentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.AddComment(r.Context(), sess, postID, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, commentView(comment))
			return
		case http.MethodGet:
			_, comments, err := s.service.PostDetail(r.Context(), postID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": commentViews(comments)})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, parts []string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		var input SendMessageInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.SendMessage(r.Context(), sess, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, messageView(message))
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		messages, err := s.service.Conversation(r.Context(), sess, parts[0], queryInt(r, "limit"))
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(messages))
		for _, message := range messages {
			items = append(items, messageView(message))
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, parts []string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if len(parts) == 0 && r.Method == http.MethodGet {
		unreadOnly := r.URL.Query().Get("unread") == "true"
		notifications, err := s.service.Notifications(r.Context(), sess.UserID, unreadOnly, queryInt(r, "limit"))
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(notifications))
		for _, item := range notifications {
			view := map[string]any{
				"id":        item.ID,
				"kind":      item.Kind,
				"actorId":   item.ActorID,
				"subjectId": item.SubjectID,
				"body":      item.Body,
				"read":      item.ReadAt != nil,
				"createdAt": item.CreatedAt.Format(time.RFC3339),
			}
			items = append(items, view)
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
		return
	}

	if len(parts) == 1 && parts[0] == "read" && r.Method == http.MethodPost {
		var body struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.MarkNotificationsRead(r.Context(), sess.UserID, strings.TrimSpace(body.ID)); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Handle      string `json:"handle"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Handle:      body.Handle,
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrHandleTaken):
			writeError(w, http.StatusConflict, "HANDLE_EXISTS", "Handle already taken", nil)
		case errors.Is(err, store.ErrEmailTaken):
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		default:
			writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		}
		return
	}

	response := map[string]any{
		"userId":  resp.User.ID,
		"handle":  resp.User.Handle,
		"message": "Please check your email to verify your account",
	}
	if s.service.SMTPConfigured() {
		s.service.SendVerificationEmail(resp.User, resp.VerificationToken)
	} else {
		// Dev bypass: surface the verification token when no SMTP is wired.
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	sess, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := authSvc.VerifyEmail(r.Context(), body.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  user.ID,
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	if s.service.AuthPasswordService() == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, user, err := s.requestReset(r.Context(), body.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token != "" {
		if s.service.SMTPConfigured() {
			s.service.SendPasswordResetEmail(user, token)
		} else {
			response["devResetToken"] = token
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) requestReset(ctx context.Context, emailAddr string) (string, store.User, error) {
	authSvc := s.service.AuthPasswordService()
	token, err := authSvc.RequestPasswordReset(ctx, emailAddr)
	if err != nil || token == "" {
		return "", store.User{}, err
	}
	user, err := s.service.store.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
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

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionView(sess Session) map[string]any {
	return map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"handle":       sess.Handle,
		"displayName":  sess.DisplayName,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func userView(user store.User) map[string]any {
	return map[string]any{
		"userId":      user.ID,
		"handle":      user.Handle,
		"displayName": user.DisplayName,
		"bio":         user.Bio,
		"civicPoints": user.CivicPoints,
		"civicRank":   user.CivicRank,
	}
}

func activityView(activity store.CivicActivity) map[string]any {
	view := map[string]any{
		"id":               activity.ID,
		"ownerId":          activity.OwnerID,
		"ownerHandle":      activity.OwnerHandle,
		"category":         activity.Category,
		"title":            activity.Title,
		"description":      activity.Description,
		"location":         activity.Location,
		"occurredAt":       activity.OccurredAt.Format(time.RFC3339),
		"proofKeys":        activity.ProofKeys,
		"status":           activity.Status,
		"pointsAwarded":    activity.PointsAwarded,
		"endorsementCount": activity.EndorsementCount,
		"createdAt":        activity.CreatedAt.Format(time.RFC3339),
	}
	if activity.VerifiedBy != nil {
		view["verifiedBy"] = *activity.VerifiedBy
	}
	if activity.VerifiedAt != nil {
		view["verifiedAt"] = activity.VerifiedAt.Format(time.RFC3339)
	}
	if activity.RejectionReason != "" {
		view["rejectionReason"] = activity.RejectionReason
	}
	return view
}

func endorsementView(endorsement store.Endorsement) map[string]any {
	return map[string]any{
		"id":             endorsement.ID,
		"activityId":     endorsement.ActivityID,
		"endorserId":     endorsement.EndorserID,
		"endorserHandle": endorsement.EndorserHandle,
		"message":        endorsement.Message,
		"pointsGiven":    endorsement.PointsGiven,
		"createdAt":      endorsement.CreatedAt.Format(time.RFC3339),
	}
}

func endorsementViews(endorsements []store.Endorsement) []map[string]any {
	items := make([]map[string]any, 0, len(endorsements))
	for _, item := range endorsements {
		items = append(items, endorsementView(item))
	}
	return items
}

func postView(post store.Post) map[string]any {
	view := map[string]any{
		"id":           post.ID,
		"authorId":     post.AuthorID,
		"authorHandle": post.AuthorHandle,
		"body":         post.Body,
		"commentCount": post.CommentCount,
		"createdAt":    post.CreatedAt.Format(time.RFC3339),
	}
	if post.ActivityID != nil {
		view["activityId"] = *post.ActivityID
	}
	return view
}

func commentView(comment store.Comment) map[string]any {
	return map[string]any{
		"id":           comment.ID,
		"postId":       comment.PostID,
		"authorId":     comment.AuthorID,
		"authorHandle": comment.AuthorHandle,
		"body":         comment.Body,
		"createdAt":    comment.CreatedAt.Format(time.RFC3339),
	}
}

func commentViews(comments []store.Comment) []map[string]any {
	items := make([]map[string]any, 0, len(comments))
	for _, item := range comments {
		items = append(items, commentView(item))
	}
	return items
}

func messageView(message store.Message) map[string]any {
	return map[string]any{
		"id":          message.ID,
		"senderId":    message.SenderID,
		"recipientId": message.RecipientID,
		"body":        message.Body,
		"read":        message.ReadAt != nil,
		"createdAt":   message.CreatedAt.Format(time.RFC3339),
	}
}
