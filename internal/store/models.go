package store

import "time"

// Activity statuses. Pending is the only state a verification decision can
// move away from; approved and rejected are terminal.
const (
	ActivityPending  = "pending"
	ActivityApproved = "approved"
	ActivityRejected = "rejected"
)

type User struct {
	ID                    string
	Handle                string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	Bio                   string
	CivicPoints           int
	CivicRank             string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type CivicActivity struct {
	ID               string
	OwnerID          string
	OwnerHandle      string
	Category         string
	Title            string
	Description      string
	Location         string
	OccurredAt       time.Time
	ProofKeys        []string
	Status           string
	PointsAwarded    int
	VerifiedBy       *string
	VerifiedAt       *time.Time
	RejectionReason  string
	EndorsementCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Endorsement struct {
	ID             string
	ActivityID     string
	EndorserID     string
	EndorserHandle string
	Message        string
	PointsGiven    int
	CreatedAt      time.Time
}

// CivicStats is a point-in-time snapshot of one user's civic standing,
// produced by a single aggregate query so the counts are mutually consistent.
type CivicStats struct {
	UserID               string
	Handle               string
	CivicPoints          int
	CivicRank            string
	ActivitiesTotal      int
	ActivitiesPending    int
	ActivitiesApproved   int
	ActivitiesRejected   int
	EndorsementsGiven    int
	EndorsementsReceived int
}

type LeaderboardEntry struct {
	Position    int
	UserID      string
	Handle      string
	DisplayName string
	CivicPoints int
	CivicRank   string
}

type Notification struct {
	ID        string
	UserID    string
	Kind      string
	ActorID   string
	SubjectID string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}

type Post struct {
	ID           string
	AuthorID     string
	AuthorHandle string
	Body         string
	ActivityID   *string
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Comment struct {
	ID           string
	PostID       string
	AuthorID     string
	AuthorHandle string
	Body         string
	CreatedAt    time.Time
}

type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Body        string
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// ConversationSummary is one row per peer the user has exchanged messages
// with, carrying the latest message and the count still unread.
type ConversationSummary struct {
	PeerID      string
	PeerHandle  string
	LastBody    string
	LastAt      time.Time
	UnreadCount int
}

type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
