// Package email delivers admin notification mail over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"estimate_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Attachment is a file attached to a notification.
type Attachment struct {
	Content  []byte
	FileName string
	MIMEType string
}

// SMTPSender sends mail through a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	adminTo   string
}

// NewSMTPSender returns nil when SMTP is not configured.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	if !cfg.IsSMTPEnabled() {
		return nil
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetSMTPFromName(),
		fromEmail: cfg.GetSMTPFromAddress(),
		adminTo:   cfg.GetAdminEmail(),
	}
}

// SendAdminNotification mails the configured admin address.
func (s *SMTPSender) SendAdminNotification(ctx context.Context, subject, htmlBody string, attachments []Attachment) error {
	if s == nil {
		return nil
	}
	msg, err := s.buildMessage(s.adminTo, subject, htmlBody, attachments)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(to, subject, htmlBody string, attachments []Attachment) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)

	for _, att := range attachments {
		var opts []gomail.FileOption
		if att.MIMEType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(att.MIMEType)))
		}
		if err := msg.AttachReader(att.FileName, bytes.NewReader(att.Content), opts...); err != nil {
			return nil, fmt.Errorf("smtp attach %s: %w", att.FileName, err)
		}
	}
	return msg, nil
}
