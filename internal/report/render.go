package report

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/cliniscribe/cliniscribe/internal/record"
)

// visitTimeLayout is how visit timestamps appear in rendered reports.
const visitTimeLayout = "2006-01-02 15:04"

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Visit report — {{.PatientName}}</title>
<style>
  body { font-family: Georgia, serif; max-width: 48rem; margin: 2rem auto; color: #222; }
  h1 { font-size: 1.4rem; border-bottom: 2px solid #222; padding-bottom: .3rem; }
  h2 { font-size: 1.1rem; margin-top: 1.6rem; }
  table { border-collapse: collapse; width: 100%; }
  td { padding: .25rem .6rem; vertical-align: top; border-bottom: 1px solid #ddd; }
  td.label { width: 11rem; font-weight: bold; }
  pre { white-space: pre-wrap; background: #f7f7f7; padding: .8rem; }
  @media print { body { margin: 0; } }
</style>
</head>
<body>
<h1>Visit report — {{.PatientName}} (patient #{{.PatientID}})</h1>
<p>Visit time: {{.VisitedAt}}</p>

<h2>Summary</h2>
<p>{{.Summary}}</p>

{{if .Changes}}<h2>Record changes</h2>
<ul>
{{range .Changes}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
{{if .Chart}}<h2>Patient chart</h2>
<table>
{{range .Chart}}<tr><td class="label">{{.Label}}</td><td>{{.Value}}</td></tr>
{{end}}</table>
{{end}}
{{if .Transcript}}<h2>Transcript</h2>
<pre>{{.Transcript}}</pre>
{{end}}</body>
</html>
`

var reportTmpl = template.Must(template.New("report").Parse(htmlTemplate))

// chartRow is one label/value pair in the rendered chart table.
type chartRow struct {
	Label string
	Value string
}

// htmlData flattens a Report for the template.
type htmlData struct {
	PatientName string
	PatientID   int64
	VisitedAt   string
	Summary     string
	Changes     []string
	Chart       []chartRow
	Transcript  string
}

// RenderHTML writes the printable HTML report to w.
func (r *Report) RenderHTML(w io.Writer) error {
	data := htmlData{
		PatientName: r.PatientName,
		PatientID:   r.PatientID,
		VisitedAt:   r.VisitedAt.Format(visitTimeLayout),
		Summary:     r.Summary,
		Chart:       chartRows(r.Record),
		Transcript:  r.Transcript,
	}
	for _, c := range r.Changes {
		data.Changes = append(data.Changes, string(c.Field)+": "+c.Action)
	}

	if err := reportTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

// RenderText returns a plain-text rendition of the report, suitable for logs
// and terminal output.
func (r *Report) RenderText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Visit report — %s (patient #%d)\n", r.PatientName, r.PatientID)
	fmt.Fprintf(&sb, "Visit time: %s\n\n", r.VisitedAt.Format(visitTimeLayout))

	sb.WriteString("Summary\n")
	sb.WriteString(r.Summary)
	sb.WriteString("\n")

	if len(r.Changes) > 0 {
		sb.WriteString("\nRecord changes\n")
		for _, c := range r.Changes {
			fmt.Fprintf(&sb, "  - %s: %s\n", c.Field, c.Action)
		}
	}

	if rows := chartRows(r.Record); len(rows) > 0 {
		sb.WriteString("\nPatient chart\n")
		for _, row := range rows {
			fmt.Fprintf(&sb, "  %-16s %s\n", row.Label+":", row.Value)
		}
	}

	if r.Transcript != "" {
		sb.WriteString("\nTranscript\n")
		sb.WriteString(r.Transcript)
		sb.WriteString("\n")
	}
	return sb.String()
}

// chartRows lists the record's populated fields in display order.
func chartRows(rec *record.PatientRecord) []chartRow {
	if rec == nil {
		return nil
	}

	var rows []chartRow
	add := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		rows = append(rows, chartRow{Label: label, Value: value})
	}

	if rec.Age > 0 {
		add("Age", fmt.Sprintf("%d", rec.Age))
	}
	add("Gender", rec.Gender)
	add("Date of birth", rec.DateOfBirth)
	add("Symptoms", rec.Symptoms)
	add("Vital signs", rec.VitalSigns)
	add("Medications", rec.Medications)
	add("Allergies", rec.Allergies)
	add("Medical history", rec.MedicalHistory)
	add("Family history", rec.FamilyHistory)
	add("Diagnosis", rec.Diagnosis)
	add("Treatment plan", rec.TreatmentPlan)
	add("Follow-up date", rec.FollowUpDate)
	add("Notes", rec.Notes)
	return rows
}
