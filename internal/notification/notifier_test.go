package notification

import (
	"Go2NetSentinel/internal/config"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmailNotifier_Send(t *testing.T) {
	n, err := NewEmailNotifier(config.SMTPConfig{
		Host: "mail.example.com", Port: 587,
		From: "ids@example.com", To: "soc@example.com, oncall@example.com,",
	})
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	require.NoError(t, n.Send("3 alerts", "<p>hi</p>"))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, []string{"soc@example.com", "oncall@example.com"}, gotTo)
	assert.True(t, strings.HasSuffix(string(gotMsg), "\r\n\r\n<p>hi</p>"))
	assert.Contains(t, string(gotMsg), "Subject: 3 alerts\r\n")
	assert.Contains(t, string(gotMsg), "Content-Type: text/html")
}

func TestNewEmailNotifier_Invalid(t *testing.T) {
	_, err := NewEmailNotifier(config.SMTPConfig{Host: "h", From: "a@b"})
	assert.Error(t, err)
	_, err = NewEmailNotifier(config.SMTPConfig{Host: "h", To: "a@b"})
	assert.Error(t, err)
}

func TestNew_FallsBackToLog(t *testing.T) {
	n, err := New(config.SMTPConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)
	assert.NoError(t, n.Send("s", "b"))
}
