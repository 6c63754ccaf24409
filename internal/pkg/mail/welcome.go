package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Welcome is the data of the email sent after an enrollment was provisioned.
type Welcome struct {
	To                 string
	Name               string
	ProgramSlug        string
	ActivationURL      string
	SetupFeeCents      int64
	WeeklyPaymentCents int64
	WeeksRemaining     int
	FirstBillingDate   time.Time
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<p>Hi {{.Name}},</p>
<p>Your payment was received and your {{.Program}} workspace is ready.</p>
{{if .ActivationURL}}<p><a href="{{.ActivationURL}}">Activate your account</a></p>{{end}}
<p>Setup fee paid: {{.SetupFee}}<br>
Weekly payment: {{.WeeklyPayment}} for {{.Weeks}} weeks<br>
First weekly charge: {{.FirstBilling}}</p>
`))

// RenderWelcome returns the subject and HTML body of the welcome email.
func RenderWelcome(w Welcome) (string, string, error) {
	name := w.Name
	if name == "" {
		name = w.To
	}
	first := ""
	if !w.FirstBillingDate.IsZero() {
		first = w.FirstBillingDate.Format("Monday, January 2, 2006 3:04 PM MST")
	}

	var buf bytes.Buffer
	err := welcomeTemplate.Execute(&buf, map[string]interface{}{
		"Name":          name,
		"Program":       w.ProgramSlug,
		"ActivationURL": w.ActivationURL,
		"SetupFee":      formatCents(w.SetupFeeCents),
		"WeeklyPayment": formatCents(w.WeeklyPaymentCents),
		"Weeks":         w.WeeksRemaining,
		"FirstBilling":  first,
	})
	if err != nil {
		return "", "", fmt.Errorf("render welcome email: %w", err)
	}
	return "Your enrollment is confirmed", buf.String(), nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
