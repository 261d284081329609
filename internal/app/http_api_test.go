package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"civicconnect/api/internal/auth"
	"civicconnect/api/internal/authpw"
	"civicconnect/api/internal/notify"
)

func newTestServer(t *testing.T) (http.Handler, *Service, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	svc := &Service{
		cfg:      testConfig(),
		store:    fs,
		sessions: newFakeSessions(),
		notify:   notify.NewService(fs, nil),
		authpw:   authpw.NewService(fs),
	}
	return NewHTTPServer(svc, "*").Handler(), svc, fs
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := make(map[string]any)
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	wantStatus(t, rec, status)
	payload := decodeResponse(t, rec)
	if payload["code"] != code {
		t.Fatalf("expected error code %s, got %v", code, payload["code"])
	}
}

func tokenFor(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess.Token
}

func TestHealthAndReady(t *testing.T) {
	handler, _, fs := newTestServer(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	wantStatus(t, rec, http.StatusOK)
	if payload := decodeResponse(t, rec); payload["ok"] != true {
		t.Fatalf("expected ok:true, got %v", payload)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	wantStatus(t, rec, http.StatusOK)

	fs.pingErr = fmt.Errorf("connection refused")
	rec = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	wantStatus(t, rec, http.StatusServiceUnavailable)
	if payload := decodeResponse(t, rec); payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload)
	}
}

func TestSignupVerifySignin(t *testing.T) {
	handler, _, _ := newTestServer(t)

	rec := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"handle":      "ada",
		"email":       "ada@example.org",
		"password":    "correct-horse-battery",
		"displayName": "Ada",
	})
	wantStatus(t, rec, http.StatusCreated)
	payload := decodeResponse(t, rec)
	devToken, _ := payload["devVerificationToken"].(string)
	if devToken == "" {
		t.Fatalf("expected dev verification token without SMTP, got %v", payload)
	}

	// Unverified accounts cannot sign in yet.
	rec = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "ada@example.org", "password": "correct-horse-battery",
	})
	wantErrorCode(t, rec, http.StatusForbidden, "EMAIL_NOT_VERIFIED")

	rec = doRequest(t, handler, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": devToken})
	wantStatus(t, rec, http.StatusOK)

	rec = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "ada@example.org", "password": "correct-horse-battery",
	})
	wantStatus(t, rec, http.StatusOK)
	payload = decodeResponse(t, rec)
	accessToken, _ := payload["accessToken"].(string)
	if accessToken == "" {
		t.Fatalf("expected access token, got %v", payload)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/session", accessToken, nil)
	wantStatus(t, rec, http.StatusOK)
	payload = decodeResponse(t, rec)
	if payload["authenticated"] != true || payload["handle"] != "ada" {
		t.Fatalf("unexpected session payload: %v", payload)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "ada@example.org", "password": "wrong",
	})
	wantErrorCode(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"handle": "ada", "email": "other@example.org", "password": "correct-horse-battery",
		"displayName": "Ada Again",
	})
	wantErrorCode(t, rec, http.StatusConflict, "HANDLE_EXISTS")

	// Missing display name is rejected before any uniqueness check.
	rec = doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"handle": "ada", "email": "other@example.org", "password": "correct-horse-battery",
	})
	wantErrorCode(t, rec, http.StatusBadRequest, "SIGNUP_FAILED")
}

func TestActivityLifecycleOverHTTP(t *testing.T) {
	handler, svc, fs := newTestServer(t)
	owner := fs.addUser("usr-owner", "ada", auth.RoleCitizen)
	verifier := fs.addUser("usr-verifier", "vera", auth.RoleVerifier)
	friend := fs.addUser("usr-friend", "finn", auth.RoleCitizen)

	ownerToken := tokenFor(t, svc, owner.ID)
	verifierToken := tokenFor(t, svc, verifier.ID)
	friendToken := tokenFor(t, svc, friend.ID)

	rec := doRequest(t, handler, http.MethodPost, "/api/activities", "", map[string]any{})
	wantErrorCode(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")

	rec = doRequest(t, handler, http.MethodPost, "/api/activities", ownerToken, map[string]any{
		"category":    "volunteering",
		"title":       "Park cleanup",
		"description": "Cleaned the riverside park",
	})
	wantStatus(t, rec, http.StatusCreated)
	activityID, _ := decodeResponse(t, rec)["id"].(string)
	if activityID == "" {
		t.Fatalf("expected activity id")
	}

	// Only verifier roles may decide.
	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/approve", ownerToken, nil)
	wantErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/approve", verifierToken, nil)
	wantStatus(t, rec, http.StatusOK)
	if payload := decodeResponse(t, rec); payload["status"] != "approved" {
		t.Fatalf("expected approved, got %v", payload["status"])
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/approve", verifierToken, nil)
	wantErrorCode(t, rec, http.StatusConflict, "INVALID_STATE")

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/endorse", ownerToken, map[string]any{})
	wantErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/endorse", friendToken, map[string]any{"message": "well earned"})
	wantStatus(t, rec, http.StatusCreated)

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/endorse", friendToken, map[string]any{})
	wantErrorCode(t, rec, http.StatusConflict, "CONFLICT")

	rec = doRequest(t, handler, http.MethodGet, "/api/activities/"+activityID, "", nil)
	wantStatus(t, rec, http.StatusOK)
	payload := decodeResponse(t, rec)
	endorsements, _ := payload["endorsements"].([]any)
	if len(endorsements) != 1 {
		t.Fatalf("expected 1 endorsement, got %v", payload["endorsements"])
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/users/"+owner.ID+"/civic-stats", "", nil)
	wantStatus(t, rec, http.StatusOK)
	payload = decodeResponse(t, rec)
	if payload["civicPoints"] != float64(110) {
		t.Fatalf("expected 110 civic points, got %v", payload["civicPoints"])
	}
	if payload["activitiesApproved"] != float64(1) {
		t.Fatalf("expected 1 approved, got %v", payload["activitiesApproved"])
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/leaderboard", "", nil)
	wantStatus(t, rec, http.StatusOK)
	entries, _ := decodeResponse(t, rec)["entries"].([]any)
	if len(entries) == 0 {
		t.Fatalf("expected leaderboard entries")
	}
	top, _ := entries[0].(map[string]any)
	if top["userId"] != owner.ID {
		t.Fatalf("expected owner on top, got %v", top)
	}

	// The approval and endorsement produced durable notifications.
	rec = doRequest(t, handler, http.MethodGet, "/api/notifications?unread=true", ownerToken, nil)
	wantStatus(t, rec, http.StatusOK)
	notifications, _ := decodeResponse(t, rec)["notifications"].([]any)
	if len(notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifications))
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/notifications/read", ownerToken, map[string]any{})
	wantStatus(t, rec, http.StatusOK)
	rec = doRequest(t, handler, http.MethodGet, "/api/notifications?unread=true", ownerToken, nil)
	notifications, _ = decodeResponse(t, rec)["notifications"].([]any)
	if len(notifications) != 0 {
		t.Fatalf("expected notifications cleared, got %d", len(notifications))
	}
}

func TestRejectOverHTTP(t *testing.T) {
	handler, svc, fs := newTestServer(t)
	owner := fs.addUser("usr-owner", "ada", auth.RoleCitizen)
	verifier := fs.addUser("usr-verifier", "vera", auth.RoleVerifier)

	ownerToken := tokenFor(t, svc, owner.ID)
	verifierToken := tokenFor(t, svc, verifier.ID)

	rec := doRequest(t, handler, http.MethodPost, "/api/activities", ownerToken, map[string]any{
		"category": "environment",
		"title":    "Tree planting",
	})
	wantStatus(t, rec, http.StatusCreated)
	activityID, _ := decodeResponse(t, rec)["id"].(string)

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/reject", verifierToken, map[string]any{"reason": "no proof"})
	wantStatus(t, rec, http.StatusOK)
	payload := decodeResponse(t, rec)
	if payload["status"] != "rejected" || payload["rejectionReason"] != "no proof" {
		t.Fatalf("unexpected rejection payload: %v", payload)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+activityID+"/approve", verifierToken, nil)
	wantErrorCode(t, rec, http.StatusConflict, "INVALID_STATE")

	// Rejecting without a reason records the default message.
	rec = doRequest(t, handler, http.MethodPost, "/api/activities", ownerToken, map[string]any{
		"category": "environment",
		"title":    "Beach cleanup",
	})
	wantStatus(t, rec, http.StatusCreated)
	secondID, _ := decodeResponse(t, rec)["id"].(string)

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/"+secondID+"/reject", verifierToken, map[string]any{})
	wantStatus(t, rec, http.StatusOK)
	payload = decodeResponse(t, rec)
	if payload["rejectionReason"] != defaultRejectionReason {
		t.Fatalf("expected default rejection reason, got %v", payload["rejectionReason"])
	}
}

func TestMessagingOverHTTP(t *testing.T) {
	handler, svc, fs := newTestServer(t)
	alice := fs.addUser("usr-alice", "alice", auth.RoleCitizen)
	bob := fs.addUser("usr-bob", "bob", auth.RoleCitizen)

	aliceToken := tokenFor(t, svc, alice.ID)
	bobToken := tokenFor(t, svc, bob.ID)

	rec := doRequest(t, handler, http.MethodPost, "/api/messages", aliceToken, map[string]any{
		"recipientId": bob.ID,
		"body":        "hello bob",
	})
	wantStatus(t, rec, http.StatusCreated)

	rec = doRequest(t, handler, http.MethodGet, "/api/conversations", bobToken, nil)
	wantStatus(t, rec, http.StatusOK)
	conversations, _ := decodeResponse(t, rec)["conversations"].([]any)
	if len(conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(conversations))
	}
	first, _ := conversations[0].(map[string]any)
	if first["unreadCount"] != float64(1) {
		t.Fatalf("expected 1 unread, got %v", first["unreadCount"])
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/messages/"+alice.ID, bobToken, nil)
	wantStatus(t, rec, http.StatusOK)
	messages, _ := decodeResponse(t, rec)["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/conversations", bobToken, nil)
	conversations, _ = decodeResponse(t, rec)["conversations"].([]any)
	first, _ = conversations[0].(map[string]any)
	if first["unreadCount"] != float64(0) {
		t.Fatalf("expected unread cleared, got %v", first["unreadCount"])
	}
}

func TestSearchUnavailableWithoutBackend(t *testing.T) {
	handler, _, _ := newTestServer(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/search?q=park", "", nil)
	wantErrorCode(t, rec, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")
}

func TestDeletePostOverHTTP(t *testing.T) {
	handler, svc, fs := newTestServer(t)
	author := fs.addUser("usr-author", "ada", auth.RoleCitizen)
	reader := fs.addUser("usr-reader", "finn", auth.RoleCitizen)

	authorToken := tokenFor(t, svc, author.ID)
	readerToken := tokenFor(t, svc, reader.ID)

	rec := doRequest(t, handler, http.MethodPost, "/api/posts", authorToken, map[string]any{"body": "Cleaned the park"})
	wantStatus(t, rec, http.StatusCreated)
	payload := decodeResponse(t, rec)
	postID, _ := payload["id"].(string)
	if payload["authorHandle"] != "ada" {
		t.Fatalf("expected author handle in create response, got %v", payload)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/posts/"+postID, readerToken, nil)
	wantErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, handler, http.MethodDelete, "/api/posts/"+postID, authorToken, nil)
	wantStatus(t, rec, http.StatusOK)

	rec = doRequest(t, handler, http.MethodGet, "/api/posts/"+postID, "", nil)
	wantErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestRemoveProofOverHTTP(t *testing.T) {
	handler, svc, fs := newTestServer(t)
	user := fs.addUser("usr-ada", "ada", auth.RoleCitizen)
	token := tokenFor(t, svc, user.ID)

	rec := doRequest(t, handler, http.MethodDelete, "/api/media/proof?key=proof/usr-other/x.jpg", token, nil)
	wantErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = doRequest(t, handler, http.MethodDelete, "/api/media/proof?key=proof/usr-ada/x.jpg", token, nil)
	wantErrorCode(t, rec, http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE")
}

func TestUnknownRoute(t *testing.T) {
	handler, _, _ := newTestServer(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/nope", "", nil)
	wantErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestMissingActivityIsNotFound(t *testing.T) {
	handler, svc, fs := newTestServer(t)
	verifier := fs.addUser("usr-verifier", "vera", auth.RoleVerifier)
	verifierToken := tokenFor(t, svc, verifier.ID)

	rec := doRequest(t, handler, http.MethodGet, "/api/activities/act-missing", "", nil)
	wantErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = doRequest(t, handler, http.MethodPost, "/api/activities/act-missing/approve", verifierToken, nil)
	wantErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}
