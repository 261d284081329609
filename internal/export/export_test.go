package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderRecordHTML(t *testing.T) {
	record := Record{
		Handle:               "jane_doe",
		DisplayName:          "Jane Doe",
		CivicPoints:          520,
		CivicRank:            "Helper",
		GeneratedAt:          time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		ActivitiesApproved:   2,
		ActivitiesPending:    1,
		EndorsementsReceived: 2,
		Activities: []RecordActivity{
			{
				Title:         "Park cleanup",
				Category:      "volunteering",
				Location:      "Riverside Park",
				OccurredAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
				PointsAwarded: 100,
				Endorsements: []RecordEndorsement{
					{Handle: "sam", Message: "saw it happen", Points: 10},
				},
			},
		},
	}

	html, err := RenderRecordHTML(record)
	if err != nil {
		t.Fatalf("RenderRecordHTML failed: %v", err)
	}

	for _, want := range []string{
		"Jane Doe", "@jane_doe", "520", "Helper",
		"Park cleanup", "Riverside Park", "@sam", "+10",
		"Mar 14, 2026",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered record missing %q", want)
		}
	}
}

func TestRenderRecordHTMLEscapesUserContent(t *testing.T) {
	record := Record{
		Handle:      "evil",
		DisplayName: "<script>alert(1)</script>",
		GeneratedAt: time.Now(),
	}

	html, err := RenderRecordHTML(record)
	if err != nil {
		t.Fatalf("RenderRecordHTML failed: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("user content must be escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"civic-record-jane_doe", "civic-record-jane_doe"},
		{"weird / name!", "weird--name"},
		{"", "civic-record"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("percentEncodeForDataURL = %q", got)
	}
}
