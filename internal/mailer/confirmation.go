package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SessionInfo is one scheduled tryout session shown in the email.
type SessionInfo struct {
	Label    string
	Date     string
	Location string
}

// ConfirmationData feeds the confirmation template.
type ConfirmationData struct {
	TryoutName     string
	RegistrationID string
	Players        []string
	Amount         int64
	Currency       string
	ReceiptURL     string
	ContactEmail   string
	Sessions       []SessionInfo
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.TryoutName}} confirmation</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
<h2>You're registered for {{.TryoutName}}!</h2>
<p>Hi,</p>
<p><strong>Registered for tryouts:</strong></p>
<ul>{{range .Players}}<li>{{.}}</li>{{end}}</ul>
{{if .Sessions}}<p><strong>Dates:</strong></p>
<ul>{{range .Sessions}}<li>{{.Label}}: {{.Date}}{{if .Location}}, {{.Location}}{{end}}</li>{{end}}</ul>{{end}}
<p><strong>Amount paid:</strong> {{.Paid}}</p>
{{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">View your payment receipt</a></p>{{end}}
<p>Registration reference: {{.RegistrationID}}</p>
{{if .ContactEmail}}<p>Questions? Contact <a href="mailto:{{.ContactEmail}}">{{.ContactEmail}}</a>.</p>{{end}}
</body>
</html>`))

// RenderConfirmation builds the confirmation message for to.
func RenderConfirmation(to string, data ConfirmationData) (Message, error) {
	paid, err := FormatAmount(data.Amount, data.Currency)
	if err != nil {
		return Message{}, err
	}
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, struct {
		ConfirmationData
		Paid string
	}{data, paid}); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}
	return Message{
		To:      to,
		Subject: data.TryoutName + " registration confirmation",
		HTML:    buf.String(),
	}, nil
}

// FormatAmount renders minor units in the currency's standard precision,
// e.g. 6000 cad -> "CA$60.00".
func FormatAmount(minor int64, code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return "", fmt.Errorf("parse currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(minor) / math.Pow10(scale)

	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit)) + p.Sprintf(fmt.Sprintf("%%.%df", scale), major), nil
}
