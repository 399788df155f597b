package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// LeadGuideData feeds the lead guide template.
type LeadGuideData struct {
	FirstName    string
	TryoutName   string
	GuideURL     string
	RegisterURL  string
	ContactEmail string
}

var leadGuideTemplate = template.Must(template.New("lead").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Your free tryout guide</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
<h2>Hi {{.FirstName}}!</h2>
<p>Here is the tryout mindset guide you asked for.</p>
<p><a href="{{.GuideURL}}">Download your free guide</a></p>
{{if .RegisterURL}}<p>{{.TryoutName}} registration is open. <a href="{{.RegisterURL}}">Register for tryouts</a></p>{{end}}
{{if .ContactEmail}}<p>Questions? Contact <a href="mailto:{{.ContactEmail}}">{{.ContactEmail}}</a>.</p>{{end}}
<p style="font-size: 12px; color: #94a3b8;">You are receiving this because you requested the guide. Reply to stop further emails.</p>
</body>
</html>`))

// RenderLeadGuide builds the guide download message for to.
func RenderLeadGuide(to string, data LeadGuideData) (Message, error) {
	var buf bytes.Buffer
	if err := leadGuideTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render lead guide: %w", err)
	}
	return Message{
		To:      to,
		Subject: data.FirstName + ", your free tryout guide is here",
		HTML:    buf.String(),
	}, nil
}
