// Package export renders a user's civic record as a PDF document.
package export

import (
	"errors"
	"time"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Record is the assembled civic record handed to the template.
type Record struct {
	Handle      string
	DisplayName string
	CivicPoints int
	CivicRank   string
	GeneratedAt time.Time

	ActivitiesApproved   int
	ActivitiesPending    int
	EndorsementsReceived int

	Activities []RecordActivity
}

// RecordActivity is one approved activity on the record.
type RecordActivity struct {
	Title         string
	Category      string
	Location      string
	OccurredAt    time.Time
	PointsAwarded int
	Endorsements  []RecordEndorsement
}

// RecordEndorsement is one endorsement line under an activity.
type RecordEndorsement struct {
	Handle  string
	Message string
	Points  int
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
