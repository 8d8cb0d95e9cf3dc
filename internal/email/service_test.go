package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

type captureSender struct {
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func TestSendVerificationEmailRendersLink(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, "cards@example.com", "https://cafe.example.com", logging.NewNopLogger())

	require.NoError(t, svc.SendVerificationEmail(context.Background(), "a@example.com", "tok+en/1"))

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "cards@example.com", msg.From)
	assert.Equal(t, "a@example.com", msg.To)
	assert.Contains(t, msg.Text, "https://cafe.example.com/verify?token=tok%2Ben%2F1")
	assert.Contains(t, msg.HTML, "https://cafe.example.com/verify?token=tok%2Ben%2F1")
}

func TestSendVerificationEmailWrapsSenderError(t *testing.T) {
	boom := errors.New("relay refused")
	svc := NewService(&captureSender{err: boom}, "cards@example.com", "https://cafe.example.com", logging.NewNopLogger())

	err := svc.SendVerificationEmail(context.Background(), "a@example.com", "tok")
	assert.ErrorIs(t, err, boom)
}

func TestLogSenderWritesInsteadOfDelivering(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLogSender(logging.NewLoggerWithWriter(&buf, false))

	require.NoError(t, sender.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Text: "link"}))

	assert.Contains(t, buf.String(), `"to":"a@example.com"`)
	assert.Contains(t, buf.String(), `"subject":"hi"`)
}
