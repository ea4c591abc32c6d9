package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"memoria/internal/memorial"
)

type captureSender struct {
	sent []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m...)
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleMemorial() *memorial.Memorial {
	return &memorial.Memorial{
		ID:       "m-1",
		FullName: "Jane Doe",
		DonationInfo: memorial.DonationInfo{
			Purpose: "Funds go to the hospice that cared for Jane.",
		},
		EmailSettings: memorial.EmailSettings{
			SenderName:     "The Doe Family",
			ReplyTo:        "family@example.com",
			HeaderImageURL: "https://example.com/header.jpg",
			FooterMessage:  "With gratitude",
		},
	}
}

func body(t *testing.T, msg *gomail.Message) string {
	t.Helper()
	var raw bytes.Buffer
	_, err := msg.WriteTo(&raw)
	require.NoError(t, err)
	parts := strings.SplitN(raw.String(), "\r\n\r\n", 2)
	require.Len(t, parts, 2)
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(parts[1])))
	require.NoError(t, err)
	return string(decoded)
}

func TestDonationRecordedSendsThankYou(t *testing.T) {
	sender := &captureSender{}
	n := NewEmailNotifier(sender, "noreply@memoria.test", quietLogger())

	d := memorial.Donation{ID: "d-1", Amount: 50, Name: "Sam", Email: "sam@example.com", Type: memorial.DonationOneTime}
	require.NoError(t, n.DonationRecorded(context.Background(), sampleMemorial(), d))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, []string{"sam@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"family@example.com"}, msg.GetHeader("Reply-To"))
	assert.Contains(t, msg.GetHeader("From")[0], "The Doe Family")
	assert.Contains(t, msg.GetHeader("From")[0], "noreply@memoria.test")
	assert.Equal(t, []string{"Thank you for remembering Jane Doe"}, msg.GetHeader("Subject"))

	html := body(t, msg)
	assert.Contains(t, html, "Dear Sam,")
	assert.Contains(t, html, "gift of 50.00 in memory of Jane Doe")
	assert.Contains(t, html, "https://example.com/header.jpg")
	assert.Contains(t, html, "With gratitude")
}

func TestDonationRecordedWithoutSettings(t *testing.T) {
	sender := &captureSender{}
	n := NewEmailNotifier(sender, "noreply@memoria.test", quietLogger())

	m := &memorial.Memorial{ID: "m-2", FullName: "John Roe"}
	d := memorial.Donation{ID: "d-2", Amount: 10, Name: "<b>Al</b>", Email: "al@example.com", Type: memorial.DonationMonthly}
	require.NoError(t, n.DonationRecorded(context.Background(), m, d))

	msg := sender.sent[0]
	assert.Equal(t, []string{"noreply@memoria.test"}, msg.GetHeader("From"))
	assert.Empty(t, msg.GetHeader("Reply-To"))

	html := body(t, msg)
	assert.NotContains(t, html, "<img")
	assert.Contains(t, html, "&lt;b&gt;Al&lt;/b&gt;")
	assert.Contains(t, html, "monthly gift")
}

func TestDonationRecordedPropagatesSendError(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	n := NewEmailNotifier(sender, "noreply@memoria.test", quietLogger())

	err := n.DonationRecorded(context.Background(), sampleMemorial(), memorial.Donation{ID: "d-3", Email: "x@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestDonationRecordedHonoursCancelledContext(t *testing.T) {
	sender := &captureSender{}
	n := NewEmailNotifier(sender, "noreply@memoria.test", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.DonationRecorded(ctx, sampleMemorial(), memorial.Donation{ID: "d-4", Email: "x@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sender.sent)
}
