// Package notify fans out in-app notifications. Rows are written through the
// store for the inbox, then pushed over Redis pub/sub for connected clients.
// Delivery is best effort: a notification failure never fails the workflow
// that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"civicconnect/api/internal/store"
	"civicconnect/api/internal/util"
)

// Notification kinds emitted by the civic workflows.
const (
	KindActivityApproved = "activity_approved"
	KindActivityRejected = "activity_rejected"
	KindEndorsement      = "endorsement"
	KindMessage          = "message"
	KindComment          = "comment"
)

// NotificationStore persists notification rows.
type NotificationStore interface {
	InsertNotification(ctx context.Context, item store.Notification) error
}

// Service writes and publishes notifications.
type Service struct {
	store  NotificationStore
	client *redis.Client
}

// NewService creates a notifier. The Redis client may be nil, in which case
// notifications are only persisted.
func NewService(notificationStore NotificationStore, client *redis.Client) *Service {
	return &Service{store: notificationStore, client: client}
}

// Channel returns the pub/sub channel carrying one user's notifications.
func Channel(userID string) string {
	return "notifications:" + userID
}

type pushPayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Emit stores and publishes one notification. Errors are logged, never
// returned: the approve, reject, and endorse workflows must succeed even
// when the notification side channel is down.
func (s *Service) Emit(ctx context.Context, userID, kind, actorID, subjectID, body string) {
	item := store.Notification{
		ID:        util.NewID("ntf"),
		UserID:    userID,
		Kind:      kind,
		ActorID:   actorID,
		SubjectID: subjectID,
		Body:      body,
		CreatedAt: time.Now(),
	}

	if err := s.store.InsertNotification(ctx, item); err != nil {
		log.Printf("notify: persist %s for user=%s failed: %v", kind, userID, err)
		return
	}

	if s.client == nil {
		return
	}
	payload, err := json.Marshal(pushPayload{
		ID:        item.ID,
		Kind:      item.Kind,
		ActorID:   item.ActorID,
		SubjectID: item.SubjectID,
		Body:      item.Body,
		CreatedAt: item.CreatedAt,
	})
	if err != nil {
		log.Printf("notify: marshal %s failed: %v", kind, err)
		return
	}
	if err := s.client.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		log.Printf("notify: publish %s to %s failed: %v", kind, Channel(userID), err)
	}
}

// Subscribe opens a pub/sub subscription for one user's channel. The caller
// owns the returned subscription and must close it.
func (s *Service) Subscribe(ctx context.Context, userID string) (*redis.PubSub, error) {
	if s.client == nil {
		return nil, fmt.Errorf("notification push is not configured")
	}
	return s.client.Subscribe(ctx, Channel(userID)), nil
}
