// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alerting

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

const alertSubjectTmpl = `[ScanGuard] {{.Severity}} {{.AbuseType}} alert for employee {{.EmployeeID}}`

const alertBodyTmpl = `A scan abuse pattern was detected.

Alert ID:    {{.ID}}
Type:        {{.AbuseType}}
Severity:    {{.Severity}}
Employee:    {{.EmployeeID}}
{{- if .CustomerID}}
Customer:    {{.CustomerID}}
{{- end}}
Count:       {{.Details.Count}}
{{- if .Details.Threshold}}
Threshold:   {{.Details.Threshold}}
{{- end}}
Window:      {{.Details.TimeWindow}}
Detected at: {{timestamp .Timestamp}}

{{.Message}}
{{- if .RequiresAction}}

This alert requires review.
{{- end}}
`

const escalationSubjectTmpl = `[ScanGuard] ESCALATION: employee {{.EmployeeID}} - {{.ViolationCount}} alerts in {{.TimeWindow}}`

const escalationBodyTmpl = `Employee {{.EmployeeID}} has accumulated {{.ViolationCount}} abuse alerts within {{.TimeWindow}}.

Alert ID:    {{.ID}}
Severity:    {{.Severity}}
Raised at:   {{timestamp .Timestamp}}

Immediate action is required. Review the employee's recent scan activity
and suspend scanning privileges if the pattern is confirmed.
`

var templateFuncs = template.FuncMap{
	"timestamp": func(t time.Time) string { return t.Format(time.RFC3339) },
}

var (
	alertSubject      = template.Must(template.New("alert_subject").Funcs(templateFuncs).Parse(alertSubjectTmpl))
	alertBody         = template.Must(template.New("alert_body").Funcs(templateFuncs).Parse(alertBodyTmpl))
	escalationSubject = template.Must(template.New("escalation_subject").Funcs(templateFuncs).Parse(escalationSubjectTmpl))
	escalationBody    = template.Must(template.New("escalation_body").Funcs(templateFuncs).Parse(escalationBodyTmpl))
)

// RenderEmail renders the subject and body for an alert.
func RenderEmail(alert *AbuseAlert) (subject, body string, err error) {
	subjectTmpl, bodyTmpl := alertSubject, alertBody
	if alert.IsEscalation() {
		subjectTmpl, bodyTmpl = escalationSubject, escalationBody
	}

	var sb strings.Builder
	if err := subjectTmpl.Execute(&sb, alert); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	subject = sb.String()

	sb.Reset()
	if err := bodyTmpl.Execute(&sb, alert); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return subject, sb.String(), nil
}
