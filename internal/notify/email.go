// Package notify sends donor thank-you emails when a donation is recorded.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"memoria/internal/memorial"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewDialer builds a gomail dialer from cfg.
func NewDialer(cfg SMTPConfig) *gomail.Dialer {
	return gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
}

// EmailNotifier thanks donors using the memorial's email settings.
type EmailNotifier struct {
	sender Sender
	from   string
	log    logrus.FieldLogger
}

func NewEmailNotifier(sender Sender, from string, log logrus.FieldLogger) *EmailNotifier {
	return &EmailNotifier{sender: sender, from: from, log: log}
}

var thankYou = template.Must(template.New("thank-you").Parse(`<html><body>
{{if .HeaderImageURL}}<img src="{{.HeaderImageURL}}" alt="" style="max-width:100%">{{end}}
<p>Dear {{.DonorName}},</p>
<p>Thank you for your {{.Type}} gift of {{printf "%.2f" .Amount}} in memory of {{.FullName}}.</p>
{{if .Purpose}}<p>{{.Purpose}}</p>{{end}}
{{if .FooterMessage}}<p>{{.FooterMessage}}</p>{{end}}
</body></html>`))

type thankYouData struct {
	DonorName      string
	FullName       string
	Amount         float64
	Type           memorial.DonationType
	Purpose        string
	HeaderImageURL string
	FooterMessage  string
}

// DonationRecorded sends a thank-you to the donor.
func (n *EmailNotifier) DonationRecorded(ctx context.Context, m *memorial.Memorial, d memorial.Donation) error {
	msg, err := n.compose(m, d)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send thank-you for donation %s: %w", d.ID, err)
	}
	n.log.WithFields(logrus.Fields{
		"memorial_id": m.ID,
		"donation_id": d.ID,
	}).Info("thank-you email sent")
	return nil
}

func (n *EmailNotifier) compose(m *memorial.Memorial, d memorial.Donation) (*gomail.Message, error) {
	settings := m.EmailSettings
	data := thankYouData{
		DonorName:      d.Name,
		FullName:       m.FullName,
		Amount:         d.Amount,
		Type:           d.Type,
		Purpose:        m.DonationInfo.Purpose,
		HeaderImageURL: settings.HeaderImageURL,
		FooterMessage:  settings.FooterMessage,
	}
	var body bytes.Buffer
	if err := thankYou.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render thank-you: %w", err)
	}

	msg := gomail.NewMessage()
	if settings.SenderName != "" {
		msg.SetAddressHeader("From", n.from, settings.SenderName)
	} else {
		msg.SetHeader("From", n.from)
	}
	if settings.ReplyTo != "" {
		msg.SetHeader("Reply-To", settings.ReplyTo)
	}
	msg.SetHeader("To", d.Email)
	msg.SetHeader("Subject", fmt.Sprintf("Thank you for remembering %s", m.FullName))
	msg.SetBody("text/html", body.String())
	return msg, nil
}
