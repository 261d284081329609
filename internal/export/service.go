package export

import (
	"context"
	"fmt"
	"time"

	"civicconnect/api/internal/store"
)

// DataStore defines the data access the exporter needs.
type DataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CivicStats(ctx context.Context, userID string) (store.CivicStats, error)
	ListActivities(ctx context.Context, filter store.ActivityFilter) ([]store.CivicActivity, error)
	ListActivityEndorsements(ctx context.Context, activityID string) ([]store.Endorsement, error)
}

// Service produces civic record exports.
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(dataStore DataStore) *Service {
	return &Service{store: dataStore}
}

// CivicRecordPDF assembles one user's verified history and renders it to PDF.
func (s *Service) CivicRecordPDF(ctx context.Context, userID string) (*Result, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	stats, err := s.store.CivicStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	activities, err := s.store.ListActivities(ctx, store.ActivityFilter{
		OwnerID: userID,
		Status:  "approved",
		Limit:   100,
	})
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	record := Record{
		Handle:               user.Handle,
		DisplayName:          user.DisplayName,
		CivicPoints:          stats.CivicPoints,
		CivicRank:            stats.CivicRank,
		GeneratedAt:          time.Now(),
		ActivitiesApproved:   stats.ActivitiesApproved,
		ActivitiesPending:    stats.ActivitiesPending,
		EndorsementsReceived: stats.EndorsementsReceived,
	}

	for _, activity := range activities {
		item := RecordActivity{
			Title:         activity.Title,
			Category:      activity.Category,
			Location:      activity.Location,
			OccurredAt:    activity.OccurredAt,
			PointsAwarded: activity.PointsAwarded,
		}
		endorsements, err := s.store.ListActivityEndorsements(ctx, activity.ID)
		if err != nil {
			return nil, fmt.Errorf("load endorsements for %s: %w", activity.ID, err)
		}
		for _, e := range endorsements {
			item.Endorsements = append(item.Endorsements, RecordEndorsement{
				Handle:  e.EndorserHandle,
				Message: e.Message,
				Points:  e.PointsGiven,
			})
		}
		record.Activities = append(record.Activities, item)
	}

	html, err := RenderRecordHTML(record)
	if err != nil {
		return nil, fmt.Errorf("render record: %w", err)
	}

	return exportPDF(html, "civic-record-"+user.Handle)
}
