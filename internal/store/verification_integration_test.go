package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"civicconnect/api/internal/util"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CIVIC_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CIVIC_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedUser(t *testing.T, s *PostgresStore, handle string) User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), User{
		ID:           util.NewID("usr"),
		Handle:       handle,
		DisplayName:  handle,
		Email:        handle + "@example.test",
		PasswordHash: "x",
		Role:         "citizen",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", handle, err)
	}
	return user
}

func seedActivity(t *testing.T, s *PostgresStore, ownerID string) CivicActivity {
	t.Helper()
	activity, err := s.InsertActivity(context.Background(), CivicActivity{
		ID:          util.NewID("act"),
		OwnerID:     ownerID,
		Category:    "volunteering",
		Title:       "Park cleanup",
		Description: "Cleaned the riverside park",
		OccurredAt:  time.Now().Add(-24 * time.Hour),
		ProofKeys:   []string{"proof/one.jpg"},
	})
	if err != nil {
		t.Fatalf("seed activity: %v", err)
	}
	return activity
}

// TestApproveActivityExactlyOnce drives two approve attempts at the same
// pending activity and checks the owner is credited a single time.
func TestApproveActivityExactlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "owner")
	verifier := seedUser(t, s, "verifier")
	activity := seedActivity(t, s, owner.ID)

	changed, err := s.ApproveActivity(ctx, activity.ID, verifier.ID, 100)
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if !changed {
		t.Fatal("first approve should report changed")
	}

	changed, err = s.ApproveActivity(ctx, activity.ID, verifier.ID, 100)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if changed {
		t.Fatal("second approve must not change an already approved activity")
	}

	if rejected, err := s.RejectActivity(ctx, activity.ID, verifier.ID, "too late"); err != nil {
		t.Fatalf("reject after approve: %v", err)
	} else if rejected {
		t.Fatal("reject must not flip an approved activity")
	}

	got, err := s.GetUserByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("reload owner: %v", err)
	}
	if got.CivicPoints != 100 {
		t.Fatalf("owner points = %d, want 100", got.CivicPoints)
	}
	if got.CivicRank != "Citizen" {
		t.Fatalf("owner rank = %q, want Citizen", got.CivicRank)
	}
}

// TestEndorsementUniquenessUnderRace fires concurrent duplicate endorsements
// and expects exactly one insert and one point award.
func TestEndorsementUniquenessUnderRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "owner")
	verifier := seedUser(t, s, "verifier")
	endorser := seedUser(t, s, "endorser")
	activity := seedActivity(t, s, owner.ID)

	if changed, err := s.ApproveActivity(ctx, activity.ID, verifier.ID, 100); err != nil || !changed {
		t.Fatalf("approve: changed=%v err=%v", changed, err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.InsertEndorsement(ctx, Endorsement{
				ID:          util.NewID("end"),
				ActivityID:  activity.ID,
				EndorserID:  endorser.ID,
				Message:     "great work",
				PointsGiven: 10,
			}, owner.ID)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateEndorsement):
			dup++
		default:
			t.Fatalf("unexpected endorse error: %v", err)
		}
	}
	if ok != 1 || dup != attempts-1 {
		t.Fatalf("got %d successes and %d duplicates, want 1 and %d", ok, dup, attempts-1)
	}

	list, err := s.ListActivityEndorsements(ctx, activity.ID)
	if err != nil {
		t.Fatalf("list endorsements: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("stored endorsements = %d, want 1", len(list))
	}

	got, err := s.GetUserByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("reload owner: %v", err)
	}
	if got.CivicPoints != 110 {
		t.Fatalf("owner points = %d, want 110", got.CivicPoints)
	}
}

// TestCivicStatsSnapshot checks the aggregate matches a known fixture.
func TestCivicStatsSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "owner")
	verifier := seedUser(t, s, "verifier")
	fans := []User{
		seedUser(t, s, "fan1"),
		seedUser(t, s, "fan2"),
		seedUser(t, s, "fan3"),
	}

	approved := make([]CivicActivity, 0, 3)
	for i := 0; i < 3; i++ {
		a := seedActivity(t, s, owner.ID)
		if changed, err := s.ApproveActivity(ctx, a.ID, verifier.ID, 100); err != nil || !changed {
			t.Fatalf("approve fixture activity: changed=%v err=%v", changed, err)
		}
		approved = append(approved, a)
	}
	seedActivity(t, s, owner.ID) // stays pending

	endorse := func(activity CivicActivity, endorsers []User) {
		for _, fan := range endorsers {
			if _, err := s.InsertEndorsement(ctx, Endorsement{
				ID:          util.NewID("end"),
				ActivityID:  activity.ID,
				EndorserID:  fan.ID,
				PointsGiven: 10,
			}, owner.ID); err != nil {
				t.Fatalf("endorse fixture: %v", err)
			}
		}
	}
	endorse(approved[0], fans[:2])
	endorse(approved[2], fans)

	stats, err := s.CivicStats(ctx, owner.ID)
	if err != nil {
		t.Fatalf("civic stats: %v", err)
	}
	if stats.ActivitiesApproved != 3 {
		t.Fatalf("approved = %d, want 3", stats.ActivitiesApproved)
	}
	if stats.ActivitiesPending != 1 {
		t.Fatalf("pending = %d, want 1", stats.ActivitiesPending)
	}
	if stats.EndorsementsReceived != 5 {
		t.Fatalf("endorsements received = %d, want 5", stats.EndorsementsReceived)
	}
	if stats.CivicPoints != 350 {
		t.Fatalf("points = %d, want 350", stats.CivicPoints)
	}
}
