package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"civicconnect/api/internal/rank"
)

// ErrDuplicateEndorsement is returned when the endorsements unique
// constraint on (activity_id, endorser_id) rejects an insert.
var ErrDuplicateEndorsement = errors.New("duplicate endorsement")

// ErrHandleTaken and ErrEmailTaken surface unique violations on signup.
var (
	ErrHandleTaken = errors.New("handle already taken")
	ErrEmailTaken  = errors.New("email already registered")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

// ---- users ----

const userColumns = `
	id, handle, display_name, email, password_hash, role, COALESCE(bio, ''),
	civic_points, civic_rank, is_email_verified, COALESCE(verification_token, ''),
	verification_expires_at, deactivated_at, created_at, updated_at
`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Handle,
		&u.DisplayName,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.Bio,
		&u.CivicPoints,
		&u.CivicRank,
		&u.IsEmailVerified,
		&u.VerificationToken,
		&u.VerificationExpiresAt,
		&u.DeactivatedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, handle, display_name, email, password_hash, role, bio, civic_points, civic_rank, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		RETURNING `+userColumns,
		user.ID, user.Handle, user.DisplayName, user.Email, user.PasswordHash,
		user.Role, user.Bio, string(rank.Citizen), user.VerificationToken, user.VerificationExpiresAt,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err, "users_handle_key") {
			return User{}, ErrHandleTaken
		}
		if isUniqueViolation(err, "users_email_key") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByHandle(ctx context.Context, handle string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(handle)=LOWER($1)`, handle)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
		RETURNING `+userColumns, token)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName, bio string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET display_name=$2, bio=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns, userID, displayName, bio)
	return scanUser(row)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, reset PasswordReset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, reset.ID, reset.UserID, reset.TokenHash, reset.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, tokenHash string) (PasswordReset, error) {
	var reset PasswordReset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_resets
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&reset.ID, &reset.UserID, &reset.TokenHash, &reset.ExpiresAt, &reset.UsedAt, &reset.CreatedAt)
	if err != nil {
		return PasswordReset{}, err
	}
	return reset, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, resetID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE id=$1`, resetID)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- access token revocation ----

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- civic activities ----

const activityColumns = `
	a.id, a.owner_id, u.handle, a.category, a.title, a.description, COALESCE(a.location, ''),
	a.occurred_at, a.proof_keys, a.status, a.points_awarded, a.verified_by, a.verified_at,
	COALESCE(a.rejection_reason, ''),
	(SELECT COUNT(*) FROM endorsements e WHERE e.activity_id = a.id),
	a.created_at, a.updated_at
`

func scanActivity(row interface{ Scan(...any) error }) (CivicActivity, error) {
	var a CivicActivity
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.OwnerHandle,
		&a.Category,
		&a.Title,
		&a.Description,
		&a.Location,
		&a.OccurredAt,
		pq.Array(&a.ProofKeys),
		&a.Status,
		&a.PointsAwarded,
		&a.VerifiedBy,
		&a.VerifiedAt,
		&a.RejectionReason,
		&a.EndorsementCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (s *PostgresStore) InsertActivity(ctx context.Context, item CivicActivity) (CivicActivity, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO civic_activities (id, owner_id, category, title, description, location, occurred_at, proof_keys, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
	`, item.ID, item.OwnerID, item.Category, item.Title, item.Description, item.Location, item.OccurredAt, pq.Array(item.ProofKeys))
	if err != nil {
		return CivicActivity{}, fmt.Errorf("insert activity: %w", err)
	}
	return s.GetActivity(ctx, item.ID)
}

func (s *PostgresStore) GetActivity(ctx context.Context, activityID string) (CivicActivity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM civic_activities a
		JOIN users u ON u.id = a.owner_id
		WHERE a.id=$1
	`, activityID)
	return scanActivity(row)
}

// ActivityFilter narrows ListActivities. Zero values mean no filter.
type ActivityFilter struct {
	OwnerID  string
	Status   string
	Category string
	Limit    int
	Offset   int
}

func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]CivicActivity, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM civic_activities a
		JOIN users u ON u.id = a.owner_id
		WHERE 1=1
	`
	var args []any
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(" AND a.owner_id=$%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND a.status=$%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND a.category=$%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY a.created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]CivicActivity, 0)
	for rows.Next() {
		item, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ApproveActivity flips a pending activity to approved, credits the owner's
// point balance, and rewrites the owner's rank, all in one transaction. The
// status flip is conditional on status='pending', so of two racing decisions
// exactly one observes changed=true and the other leaves the record untouched.
func (s *PostgresStore) ApproveActivity(ctx context.Context, activityID, verifierID string, points int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRowContext(ctx, `
		UPDATE civic_activities
		SET status='approved', points_awarded=$3, verified_by=$2, verified_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='pending'
		RETURNING owner_id
	`, activityID, verifierID, points).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("approve activity: %w", err)
	}

	if err := creditPoints(ctx, tx, ownerID, points); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approve tx: %w", err)
	}
	return true, nil
}

// RejectActivity is the same conditional flip without any point movement.
func (s *PostgresStore) RejectActivity(ctx context.Context, activityID, verifierID, reason string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE civic_activities
		SET status='rejected', rejection_reason=$3, verified_by=$2, verified_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, activityID, verifierID, reason)
	if err != nil {
		return false, fmt.Errorf("reject activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject activity rows: %w", err)
	}
	return affected > 0, nil
}

// creditPoints applies a commutative balance increment and recomputes the
// stored rank from the post-increment balance inside the caller's transaction.
func creditPoints(ctx context.Context, tx *sql.Tx, userID string, points int) error {
	var balance int
	err := tx.QueryRowContext(ctx, `
		UPDATE users SET civic_points = civic_points + $2, updated_at=NOW()
		WHERE id=$1
		RETURNING civic_points
	`, userID, points).Scan(&balance)
	if err != nil {
		return fmt.Errorf("credit points: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET civic_rank=$2 WHERE id=$1
	`, userID, string(rank.RankFor(balance))); err != nil {
		return fmt.Errorf("update rank: %w", err)
	}
	return nil
}

// ---- endorsements ----

// InsertEndorsement stores the endorsement and credits the activity owner in
// one transaction. The unique constraint on (activity_id, endorser_id) makes
// the duplicate check exactly-once: of two racing inserts by the same
// endorser one commits and the other gets ErrDuplicateEndorsement.
func (s *PostgresStore) InsertEndorsement(ctx context.Context, item Endorsement, ownerID string) (Endorsement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Endorsement{}, fmt.Errorf("begin endorse tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO endorsements (id, activity_id, endorser_id, message, points_given)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, item.ID, item.ActivityID, item.EndorserID, item.Message, item.PointsGiven).Scan(&item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "endorsements_activity_id_endorser_id_key") {
			return Endorsement{}, ErrDuplicateEndorsement
		}
		return Endorsement{}, fmt.Errorf("insert endorsement: %w", err)
	}

	if err := creditPoints(ctx, tx, ownerID, item.PointsGiven); err != nil {
		return Endorsement{}, err
	}

	if err := tx.Commit(); err != nil {
		return Endorsement{}, fmt.Errorf("commit endorse tx: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListActivityEndorsements(ctx context.Context, activityID string) ([]Endorsement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.activity_id, e.endorser_id, u.handle, COALESCE(e.message, ''), e.points_given, e.created_at
		FROM endorsements e
		JOIN users u ON u.id = e.endorser_id
		WHERE e.activity_id=$1
		ORDER BY e.created_at ASC
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("list endorsements: %w", err)
	}
	defer rows.Close()

	items := make([]Endorsement, 0)
	for rows.Next() {
		var item Endorsement
		if err := rows.Scan(&item.ID, &item.ActivityID, &item.EndorserID, &item.EndorserHandle, &item.Message, &item.PointsGiven, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan endorsement: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ---- civic stats ----

// CivicStats reads the whole snapshot in one statement so the balance and the
// per-status counts cannot straddle a concurrent approve or endorse commit.
func (s *PostgresStore) CivicStats(ctx context.Context, userID string) (CivicStats, error) {
	var stats CivicStats
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.handle, u.civic_points, u.civic_rank,
			(SELECT COUNT(*) FROM civic_activities a WHERE a.owner_id = u.id),
			(SELECT COUNT(*) FROM civic_activities a WHERE a.owner_id = u.id AND a.status = 'pending'),
			(SELECT COUNT(*) FROM civic_activities a WHERE a.owner_id = u.id AND a.status = 'approved'),
			(SELECT COUNT(*) FROM civic_activities a WHERE a.owner_id = u.id AND a.status = 'rejected'),
			(SELECT COUNT(*) FROM endorsements e WHERE e.endorser_id = u.id),
			(SELECT COUNT(*) FROM endorsements e JOIN civic_activities a ON a.id = e.activity_id WHERE a.owner_id = u.id)
		FROM users u
		WHERE u.id = $1
	`, userID).Scan(
		&stats.UserID,
		&stats.Handle,
		&stats.CivicPoints,
		&stats.CivicRank,
		&stats.ActivitiesTotal,
		&stats.ActivitiesPending,
		&stats.ActivitiesApproved,
		&stats.ActivitiesRejected,
		&stats.EndorsementsGiven,
		&stats.EndorsementsReceived,
	)
	if err != nil {
		return CivicStats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, display_name, civic_points, civic_rank
		FROM users
		WHERE deactivated_at IS NULL
		ORDER BY civic_points DESC, created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Handle, &e.DisplayName, &e.CivicPoints, &e.CivicRank); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		e.Position = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, actor_id, subject_id, body)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, item.Kind, item.ActorID, item.SubjectID, item.Body)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, user_id, kind, COALESCE(actor_id, ''), COALESCE(subject_id, ''), body, read_at, created_at
		FROM notifications
		WHERE user_id=$1
	`
	if unreadOnly {
		query += " AND read_at IS NULL"
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Kind, &item.ActorID, &item.SubjectID, &item.Body, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=NOW()
		WHERE id=$1 AND user_id=$2 AND read_at IS NULL
	`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET read_at=NOW() WHERE user_id=$1 AND read_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ---- posts and comments ----

func (s *PostgresStore) InsertPost(ctx context.Context, item Post) (Post, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (id, author_id, body, activity_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, item.ID, item.AuthorID, item.Body, item.ActivityID).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return item, nil
}

const postColumns = `
	p.id, p.author_id, u.handle, p.body, p.activity_id,
	(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id),
	p.created_at, p.updated_at
`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorHandle, &p.Body, &p.ActivityID, &p.CommentCount, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE p.id=$1
	`, postID)
	return scanPost(row)
}

func (s *PostgresStore) ListPosts(ctx context.Context, authorID string, limit, offset int) ([]Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.author_id
	`
	var args []any
	if authorID != "" {
		args = append(args, authorID)
		query += " WHERE p.author_id=$1"
	}
	query += fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, post_id, author_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, item.ID, item.PostID, item.AuthorID, item.Body).Scan(&item.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

// DeletePost removes a post and its comments in one transaction.
func (s *PostgresStore) DeletePost(ctx context.Context, postID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete post tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE post_id=$1`, postID); err != nil {
		return fmt.Errorf("delete post comments: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete post rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete post tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.post_id, c.author_id, u.handle, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.post_id=$1
		ORDER BY c.created_at ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.PostID, &item.AuthorID, &item.AuthorHandle, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ---- direct messages ----

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) (Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, item.ID, item.SenderID, item.RecipientID, item.Body).Scan(&item.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListConversation(ctx context.Context, userID, peerID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, recipient_id, body, read_at, created_at
		FROM messages
		WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.SenderID, &item.RecipientID, &item.Body, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, userID, peerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at=NOW()
		WHERE recipient_id=$1 AND sender_id=$2 AND read_at IS NULL
	`, userID, peerID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConversationSummaries(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (peer_id)
			peer_id, u.handle, body, created_at,
			(SELECT COUNT(*) FROM messages m2 WHERE m2.recipient_id=$1 AND m2.sender_id=peer_id AND m2.read_at IS NULL)
		FROM (
			SELECT CASE WHEN sender_id=$1 THEN recipient_id ELSE sender_id END AS peer_id, body, created_at
			FROM messages
			WHERE sender_id=$1 OR recipient_id=$1
		) m
		JOIN users u ON u.id = m.peer_id
		ORDER BY peer_id, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation summaries: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationSummary, 0)
	for rows.Next() {
		var item ConversationSummary
		if err := rows.Scan(&item.PeerID, &item.PeerHandle, &item.LastBody, &item.LastAt, &item.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
