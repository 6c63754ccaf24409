package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderWelcome(t *testing.T) {
	subject, body, err := RenderWelcome(Welcome{
		To:                 "jordan@example.com",
		Name:               "Jordan",
		ProgramSlug:        "barber-apprenticeship",
		ActivationURL:      "https://app.example.com/activate/abc",
		SetupFeeCents:      174300,
		WeeklyPaymentCents: 6474,
		WeeksRemaining:     50,
		FirstBillingDate:   time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, subject)
	assert.Contains(t, body, "Hi Jordan")
	assert.Contains(t, body, "$1743.00")
	assert.Contains(t, body, "$64.74 for 50 weeks")
	assert.Contains(t, body, `href="https://app.example.com/activate/abc"`)
}

func TestRenderWelcomeWithoutActivation(t *testing.T) {
	_, body, err := RenderWelcome(Welcome{To: "a@example.com"})
	require.NoError(t, err)
	assert.Contains(t, body, "Hi a@example.com")
	assert.NotContains(t, body, "Activate")
}

func TestSMTPMailerSend(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.test", Port: 2525, From: "billing@example.com", FromName: "Billing"})

	var gotAddr string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Equal(t, "billing@example.com", from)
		assert.Equal(t, []string{"jordan@example.com"}, to)
		return nil
	}

	require.NoError(t, m.SendWelcome(context.Background(), Welcome{To: "jordan@example.com", Name: "Jordan"}))
	assert.Equal(t, "smtp.test:2525", gotAddr)
	assert.True(t, strings.HasPrefix(string(gotMsg), "From: Billing <billing@example.com>\r\n"))
	assert.Contains(t, string(gotMsg), "Content-Type: text/html")
}

func TestSMTPMailerSendError(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.test", Port: 25})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := m.Send(context.Background(), "x@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
