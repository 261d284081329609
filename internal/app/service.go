package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"civicconnect/api/internal/auth"
	"civicconnect/api/internal/authpw"
	"civicconnect/api/internal/config"
	"civicconnect/api/internal/email"
	"civicconnect/api/internal/export"
	"civicconnect/api/internal/media"
	"civicconnect/api/internal/notify"
	"civicconnect/api/internal/search"
	"civicconnect/api/internal/session"
	"civicconnect/api/internal/store"
	"civicconnect/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Handle       string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) CanVerify() bool {
	return s.Role == auth.RoleVerifier || s.Role == auth.RoleAdmin
}

type SubmitActivityInput struct {
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	OccurredAt  string   `json:"occurredAt"`
	ProofKeys   []string `json:"proofKeys"`
}

type RejectActivityInput struct {
	Reason string `json:"reason"`
}

type EndorseActivityInput struct {
	Message string `json:"message"`
}

type UpdateProfileInput struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
}

type CreatePostInput struct {
	Body       string `json:"body"`
	ActivityID string `json:"activityId"`
}

type CommentInput struct {
	Body string `json:"body"`
}

type SendMessageInput struct {
	RecipientID string `json:"recipientId"`
	Body        string `json:"body"`
}

var allowedCategories = map[string]struct{}{
	"volunteering":    {},
	"environment":     {},
	"donation":        {},
	"education":       {},
	"community_event": {},
	"public_safety":   {},
	"other":           {},
}

const (
	maxTitleLen       = 140
	maxDescriptionLen = 4000
	maxLocationLen    = 200
	maxProofKeys      = 5
	maxPostLen        = 2000
	maxCommentLen     = 1000
	maxDMLen          = 2000
	maxBioLen         = 500

	defaultListLimit  = 20
	maxListLimit      = 100
	defaultBoardLimit = 25

	// Recorded when a verifier rejects without giving a reason.
	defaultRejectionReason = "activity rejected"
)

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByHandle(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, string, string, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertActivity(context.Context, store.CivicActivity) (store.CivicActivity, error)
	GetActivity(context.Context, string) (store.CivicActivity, error)
	ListActivities(context.Context, store.ActivityFilter) ([]store.CivicActivity, error)
	ApproveActivity(ctx context.Context, activityID, verifierID string, points int) (bool, error)
	RejectActivity(ctx context.Context, activityID, verifierID, reason string) (bool, error)
	InsertEndorsement(ctx context.Context, item store.Endorsement, ownerID string) (store.Endorsement, error)
	ListActivityEndorsements(context.Context, string) ([]store.Endorsement, error)
	CivicStats(context.Context, string) (store.CivicStats, error)
	Leaderboard(context.Context, int) ([]store.LeaderboardEntry, error)

	ListNotifications(context.Context, string, bool, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) (bool, error)
	MarkAllNotificationsRead(context.Context, string) error

	InsertPost(context.Context, store.Post) (store.Post, error)
	GetPost(context.Context, string) (store.Post, error)
	ListPosts(context.Context, string, int, int) ([]store.Post, error)
	DeletePost(context.Context, string) error
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)

	InsertMessage(context.Context, store.Message) (store.Message, error)
	ListConversation(context.Context, string, string, int) ([]store.Message, error)
	MarkConversationRead(context.Context, string, string) error
	ConversationSummaries(context.Context, string) ([]store.ConversationSummary, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// notifier delivers best-effort notifications; implementations must never
// fail the workflow that triggered them.
type notifier interface {
	Emit(ctx context.Context, userID, kind, actorID, subjectID, body string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	notify   notifier
	authpw   *authpw.Service
	email    *email.Service
	media    *media.Service
	search   *search.Service
	export   *export.Service
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions *session.RedisStore,
	notifySvc *notify.Service,
	authSvc *authpw.Service,
	emailSvc *email.Service,
	mediaSvc *media.Service,
	searchSvc *search.Service,
	exportSvc *export.Service,
) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		notify:   notifySvc,
		authpw:   authSvc,
		email:    emailSvc,
		media:    mediaSvc,
		search:   searchSvc,
		export:   exportSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the signup verification link in the
// background; a delivery failure is logged, never surfaced to the signup.
func (s *Service) SendVerificationEmail(user store.User, token string) {
	if !s.SMTPConfigured() {
		return
	}
	verifyURL := s.cfg.PublicBaseURL + "/verify-email?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(user.Email, user.DisplayName, verifyURL); err != nil {
			log.Printf(`{"event":"email_failed","kind":"verification","user_id":"%s","error":%q}`, user.ID, err.Error())
		}
	}()
}

func (s *Service) SendPasswordResetEmail(user store.User, token string) {
	if !s.SMTPConfigured() {
		return
	}
	resetURL := s.cfg.PublicBaseURL + "/reset-password?token=" + token
	go func() {
		if err := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); err != nil {
			log.Printf(`{"event":"email_failed","kind":"password_reset","user_id":"%s","error":%q}`, user.ID, err.Error())
		}
	}()
}

// CreateSession issues tokens for an already-authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	cached, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Re-read the user so role or handle changes take effect on rotation.
	user, err := s.store.GetUserByID(ctx, cached.ID)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, session.ErrSessionNotFound
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Handle: user.Handle,
		Role:   user.Role,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Handle:       user.Handle,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Handle:      user.Handle,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// resolveUser accepts either a user id or a handle, so public profile URLs
// work with both forms.
func (s *Service) resolveUser(ctx context.Context, idOrHandle string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, idOrHandle)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, err
	}
	return s.store.GetUserByHandle(ctx, idOrHandle)
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, input UpdateProfileInput) (store.User, error) {
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return store.User{}, validation("displayName is required")
	}
	if len([]rune(displayName)) > maxTitleLen {
		return store.User{}, validation("displayName is too long")
	}
	bio := strings.TrimSpace(input.Bio)
	if len([]rune(bio)) > maxBioLen {
		return store.User{}, validation(fmt.Sprintf("bio must be at most %d characters", maxBioLen))
	}
	return s.store.UpdateUserProfile(ctx, sess.UserID, displayName, bio)
}

func (s *Service) SubmitActivity(ctx context.Context, owner Session, input SubmitActivityInput) (store.CivicActivity, error) {
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if _, ok := allowedCategories[category]; !ok {
		return store.CivicActivity{}, validation("invalid category")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.CivicActivity{}, validation("title is required")
	}
	if len([]rune(title)) > maxTitleLen {
		return store.CivicActivity{}, validation(fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	description := strings.TrimSpace(input.Description)
	if len([]rune(description)) > maxDescriptionLen {
		return store.CivicActivity{}, validation(fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
	}
	location := strings.TrimSpace(input.Location)
	if len([]rune(location)) > maxLocationLen {
		return store.CivicActivity{}, validation(fmt.Sprintf("location must be at most %d characters", maxLocationLen))
	}

	occurredAt := time.Now()
	if raw := strings.TrimSpace(input.OccurredAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.CivicActivity{}, validation("occurredAt must be an RFC 3339 timestamp")
		}
		if parsed.After(time.Now().Add(time.Minute)) {
			return store.CivicActivity{}, validation("occurredAt cannot be in the future")
		}
		occurredAt = parsed
	}

	if len(input.ProofKeys) > maxProofKeys {
		return store.CivicActivity{}, validation(fmt.Sprintf("at most %d proof attachments", maxProofKeys))
	}
	for _, key := range input.ProofKeys {
		if !strings.HasPrefix(key, "proof/"+owner.UserID+"/") {
			return store.CivicActivity{}, forbidden("proof key does not belong to the submitting user")
		}
	}

	return s.store.InsertActivity(ctx, store.CivicActivity{
		ID:          util.NewID("act"),
		OwnerID:     owner.UserID,
		Category:    category,
		Title:       title,
		Description: description,
		Location:    location,
		OccurredAt:  occurredAt,
		ProofKeys:   input.ProofKeys,
	})
}

func (s *Service) GetActivity(ctx context.Context, activityID string) (store.CivicActivity, error) {
	return s.store.GetActivity(ctx, activityID)
}

func (s *Service) ActivityDetail(ctx context.Context, activityID string) (store.CivicActivity, []store.Endorsement, error) {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return store.CivicActivity{}, nil, err
	}
	endorsements, err := s.store.ListActivityEndorsements(ctx, activityID)
	if err != nil {
		return store.CivicActivity{}, nil, err
	}
	return activity, endorsements, nil
}

func (s *Service) ListActivities(ctx context.Context, filter store.ActivityFilter) ([]store.CivicActivity, error) {
	if filter.Status != "" {
		switch filter.Status {
		case store.ActivityPending, store.ActivityApproved, store.ActivityRejected:
		default:
			return nil, validation("invalid status filter")
		}
	}
	if filter.Category != "" {
		if _, ok := allowedCategories[filter.Category]; !ok {
			return nil, validation("invalid category filter")
		}
	}
	filter.Limit = clampLimit(filter.Limit, defaultListLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListActivities(ctx, filter)
}

// ApproveActivity flips a pending activity to approved and credits the
// owner. The status flip and the point award land in one storage
// transaction; a losing concurrent decision observes zero rows changed.
func (s *Service) ApproveActivity(ctx context.Context, verifier Session, activityID string) (store.CivicActivity, error) {
	if _, err := s.store.GetActivity(ctx, activityID); err != nil {
		return store.CivicActivity{}, err
	}
	changed, err := s.store.ApproveActivity(ctx, activityID, verifier.UserID, s.cfg.PointsPerActivity)
	if err != nil {
		return store.CivicActivity{}, err
	}
	if !changed {
		return store.CivicActivity{}, invalidState("already processed")
	}
	approved, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return store.CivicActivity{}, err
	}

	s.notify.Emit(ctx, approved.OwnerID, notify.KindActivityApproved, verifier.UserID, approved.ID,
		fmt.Sprintf("Your activity %q was approved and earned %d civic points", approved.Title, approved.PointsAwarded))
	if s.search != nil {
		s.search.IndexActivity(search.ActivityRecord{
			ID:          approved.ID,
			Title:       approved.Title,
			Description: approved.Description,
			Location:    approved.Location,
			Category:    approved.Category,
			Status:      approved.Status,
			OwnerID:     approved.OwnerID,
			OwnerHandle: approved.OwnerHandle,
		})
	}
	return approved, nil
}

func (s *Service) RejectActivity(ctx context.Context, verifier Session, activityID string, input RejectActivityInput) (store.CivicActivity, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = defaultRejectionReason
	}
	if _, err := s.store.GetActivity(ctx, activityID); err != nil {
		return store.CivicActivity{}, err
	}
	changed, err := s.store.RejectActivity(ctx, activityID, verifier.UserID, reason)
	if err != nil {
		return store.CivicActivity{}, err
	}
	if !changed {
		return store.CivicActivity{}, invalidState("already processed")
	}
	rejected, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return store.CivicActivity{}, err
	}

	s.notify.Emit(ctx, rejected.OwnerID, notify.KindActivityRejected, verifier.UserID, rejected.ID,
		fmt.Sprintf("Your activity %q was rejected: %s", rejected.Title, reason))
	return rejected, nil
}

func (s *Service) EndorseActivity(ctx context.Context, endorser Session, activityID string, input EndorseActivityInput) (store.Endorsement, error) {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return store.Endorsement{}, err
	}
	// Owner check comes before the status check: self-endorsement is
	// forbidden whatever state the activity is in.
	if activity.OwnerID == endorser.UserID {
		return store.Endorsement{}, forbidden("cannot endorse own activity")
	}
	if activity.Status != store.ActivityApproved {
		return store.Endorsement{}, invalidState("can only endorse approved activities")
	}
	message := strings.TrimSpace(input.Message)
	if len([]rune(message)) > s.cfg.EndorseMessageMax {
		return store.Endorsement{}, validation(fmt.Sprintf("message must be at most %d characters", s.cfg.EndorseMessageMax))
	}

	saved, err := s.store.InsertEndorsement(ctx, store.Endorsement{
		ID:             util.NewID("end"),
		ActivityID:     activity.ID,
		EndorserID:     endorser.UserID,
		EndorserHandle: endorser.Handle,
		Message:        message,
		PointsGiven:    s.cfg.PointsPerEndorsement,
	}, activity.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEndorsement) {
			return store.Endorsement{}, conflict("already endorsed")
		}
		return store.Endorsement{}, err
	}

	s.notify.Emit(ctx, activity.OwnerID, notify.KindEndorsement, endorser.UserID, activity.ID,
		fmt.Sprintf("%s endorsed %q (+%d civic points)", endorser.Handle, activity.Title, saved.PointsGiven))
	return saved, nil
}

func (s *Service) CivicStats(ctx context.Context, idOrHandle string) (store.CivicStats, error) {
	user, err := s.resolveUser(ctx, idOrHandle)
	if err != nil {
		return store.CivicStats{}, err
	}
	return s.store.CivicStats(ctx, user.ID)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error) {
	return s.store.Leaderboard(ctx, clampLimit(limit, defaultBoardLimit))
}

func (s *Service) CreatePost(ctx context.Context, author Session, input CreatePostInput) (store.Post, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Post{}, validation("body is required")
	}
	if len([]rune(body)) > maxPostLen {
		return store.Post{}, validation(fmt.Sprintf("body must be at most %d characters", maxPostLen))
	}

	var activityID *string
	if id := strings.TrimSpace(input.ActivityID); id != "" {
		activity, err := s.store.GetActivity(ctx, id)
		if err != nil {
			return store.Post{}, err
		}
		if activity.OwnerID != author.UserID {
			return store.Post{}, forbidden("can only attach your own activity")
		}
		activityID = &activity.ID
	}

	saved, err := s.store.InsertPost(ctx, store.Post{
		ID:           util.NewID("post"),
		AuthorID:     author.UserID,
		AuthorHandle: author.Handle,
		Body:         body,
		ActivityID:   activityID,
	})
	if err != nil {
		return store.Post{}, err
	}
	if s.search != nil {
		s.search.IndexPost(search.PostRecord{
			ID:           saved.ID,
			Body:         saved.Body,
			AuthorID:     saved.AuthorID,
			AuthorHandle: saved.AuthorHandle,
		})
	}
	return saved, nil
}

func (s *Service) ListPosts(ctx context.Context, authorID string, limit, offset int) ([]store.Post, error) {
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPosts(ctx, authorID, clampLimit(limit, defaultListLimit), offset)
}

// DeletePost removes one of the caller's posts along with its comments and
// drops it from the search index.
func (s *Service) DeletePost(ctx context.Context, author Session, postID string) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != author.UserID {
		return forbidden("can only delete your own posts")
	}
	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePost(postID)
	}
	return nil
}

func (s *Service) PostDetail(ctx context.Context, postID string) (store.Post, []store.Comment, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, nil, err
	}
	comments, err := s.store.ListComments(ctx, postID)
	if err != nil {
		return store.Post{}, nil, err
	}
	return post, comments, nil
}

func (s *Service) AddComment(ctx context.Context, author Session, postID string, input CommentInput) (store.Comment, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Comment{}, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Comment{}, validation("body is required")
	}
	if len([]rune(body)) > maxCommentLen {
		return store.Comment{}, validation(fmt.Sprintf("body must be at most %d characters", maxCommentLen))
	}

	saved, err := s.store.InsertComment(ctx, store.Comment{
		ID:           util.NewID("cmt"),
		PostID:       post.ID,
		AuthorID:     author.UserID,
		AuthorHandle: author.Handle,
		Body:         body,
	})
	if err != nil {
		return store.Comment{}, err
	}
	if post.AuthorID != author.UserID {
		s.notify.Emit(ctx, post.AuthorID, notify.KindComment, author.UserID, post.ID,
			fmt.Sprintf("%s commented on your post", author.Handle))
	}
	return saved, nil
}

func (s *Service) SendMessage(ctx context.Context, sender Session, input SendMessageInput) (store.Message, error) {
	recipientID := strings.TrimSpace(input.RecipientID)
	if recipientID == "" {
		return store.Message{}, validation("recipientId is required")
	}
	if recipientID == sender.UserID {
		return store.Message{}, validation("cannot message yourself")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Message{}, validation("body is required")
	}
	if len([]rune(body)) > maxDMLen {
		return store.Message{}, validation(fmt.Sprintf("body must be at most %d characters", maxDMLen))
	}
	recipient, err := s.store.GetUserByID(ctx, recipientID)
	if err != nil {
		return store.Message{}, err
	}

	saved, err := s.store.InsertMessage(ctx, store.Message{
		ID:          util.NewID("msg"),
		SenderID:    sender.UserID,
		RecipientID: recipient.ID,
		Body:        body,
	})
	if err != nil {
		return store.Message{}, err
	}
	s.notify.Emit(ctx, recipient.ID, notify.KindMessage, sender.UserID, saved.ID,
		fmt.Sprintf("New message from %s", sender.Handle))
	return saved, nil
}

// Conversation returns the message history with a peer and marks the
// viewer's side of it read.
func (s *Service) Conversation(ctx context.Context, viewer Session, peerID string, limit int) ([]store.Message, error) {
	peer, err := s.store.GetUserByID(ctx, peerID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListConversation(ctx, viewer.UserID, peer.ID, clampLimit(limit, 50))
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkConversationRead(ctx, viewer.UserID, peer.ID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Service) Conversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	return s.store.ConversationSummaries(ctx, userID)
}

func (s *Service) Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly, clampLimit(limit, defaultListLimit))
}

// MarkNotificationsRead marks one notification (by id) or, with an empty
// id, everything the user has unread.
func (s *Service) MarkNotificationsRead(ctx context.Context, userID, notificationID string) error {
	if notificationID == "" {
		return s.store.MarkAllNotificationsRead(ctx, userID)
	}
	changed, err := s.store.MarkNotificationRead(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if !changed {
		return notFound("unread notification not found")
	}
	return nil
}

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, validation("q is required")
	}
	q.Limit = clampLimit(q.Limit, defaultListLimit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.search.Search(q), nil
}

func (s *Service) UploadProof(ctx context.Context, userID, contentType string, body io.Reader, size int64) (string, string, error) {
	if s.media == nil {
		return "", "", domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Proof storage is not configured", nil)
	}
	key, err := s.media.PutProof(ctx, userID, contentType, body, size)
	if err != nil {
		return "", "", err
	}
	url, err := s.media.ProofURL(ctx, key, 15*time.Minute)
	if err != nil {
		return "", "", err
	}
	return key, url, nil
}

// RemoveProof deletes an uploaded proof object before it is attached to an
// activity. Keys are namespaced per uploader, so ownership is a prefix check.
func (s *Service) RemoveProof(ctx context.Context, owner Session, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return validation("key is required")
	}
	if !strings.HasPrefix(key, "proof/"+owner.UserID+"/") {
		return forbidden("proof key does not belong to the requesting user")
	}
	if s.media == nil {
		return domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Proof storage is not configured", nil)
	}
	return s.media.RemoveProof(ctx, key)
}

func (s *Service) CivicRecordPDF(ctx context.Context, idOrHandle string) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not configured", nil)
	}
	user, err := s.resolveUser(ctx, idOrHandle)
	if err != nil {
		return nil, err
	}
	return s.export.CivicRecordPDF(ctx, user.ID)
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
