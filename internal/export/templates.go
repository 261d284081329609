package export

import (
	"bytes"
	"html/template"
	"time"
)

var recordTemplate = template.Must(template.New("record").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(recordTemplateHTML))

// RenderRecordHTML renders the civic record template with provided data
func RenderRecordHTML(record Record) (string, error) {
	var buf bytes.Buffer
	if err := recordTemplate.Execute(&buf, record); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const recordTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Civic Record - {{.Handle}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #1a7f4b; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .summary { display: flex; gap: 2rem; margin-bottom: 2rem; }
    .summary div { background: #f5f5f5; padding: 1rem; border-radius: 4px; }
    .summary .value { font-size: 1.6em; font-weight: bold; color: #1a7f4b; }
    .activity { border-left: 3px solid #1a7f4b; padding: 0.5rem 1rem; margin: 1rem 0; }
    .activity h3 { margin: 0 0 0.25rem; }
    .endorsement { background: #f5f5f5; padding: 0.5rem 1rem; margin: 0.5rem 0; font-size: 0.9em; }
    .points { color: #1a7f4b; font-weight: bold; }
  </style>
</head>
<body>
  <h1>Civic Record</h1>
  <div class="meta">
    {{.DisplayName}} (@{{.Handle}}) | Generated {{formatDate .GeneratedAt "Jan 2, 2006"}}
  </div>

  <div class="summary">
    <div><div class="value">{{.CivicPoints}}</div>Civic Points</div>
    <div><div class="value">{{.CivicRank}}</div>Rank</div>
    <div><div class="value">{{.ActivitiesApproved}}</div>Verified Activities</div>
    <div><div class="value">{{.EndorsementsReceived}}</div>Endorsements</div>
  </div>

  <h2>Verified Activities</h2>
  {{if .Activities}}
  {{range .Activities}}
  <div class="activity">
    <h3>{{.Title}}</h3>
    <div>{{.Category}}{{if .Location}} &middot; {{.Location}}{{end}} &middot; {{formatDate .OccurredAt "Jan 2, 2006"}} &middot; <span class="points">+{{.PointsAwarded}}</span></div>
    {{range .Endorsements}}
    <div class="endorsement">@{{.Handle}}{{if .Message}}: {{.Message}}{{end}} <span class="points">+{{.Points}}</span></div>
    {{end}}
  </div>
  {{end}}
  {{else}}
  <p>No verified activities yet.</p>
  {{end}}
</body>
</html>`
