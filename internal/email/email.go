// Package email sends job notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"

	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/wneessen/go-mail"
)

// Attachment is a file carried inline in a Message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outgoing email. HTML is optional; Text is always sent.
type Message struct {
	To         []string
	Subject    string
	Text       string
	HTML       string
	Attachment *Attachment
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPSender delivers through a single SMTP relay.
type SMTPSender struct {
	from   string
	client *mail.Client
}

// NewSMTPSender creates a sender from cfg. Credentials are optional; when a
// username is set, PLAIN auth over mandatory TLS is used.
func NewSMTPSender(cfg config.EmailConfig) (*SMTPSender, error) {
	opts := []mail.Option{mail.WithPort(cfg.SMTPPort)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
			mail.WithTLSPortPolicy(mail.TLSMandatory),
		)
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPSender{from: cfg.From, client: client}, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := Build(s.from, m)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Build turns m into a MIME message from the given sender address.
func Build(from string, m Message) (*mail.Msg, error) {
	if len(m.To) == 0 {
		return nil, fmt.Errorf("email has no recipients")
	}
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	if m.Attachment != nil {
		var opts []mail.FileOption
		if m.Attachment.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(m.Attachment.ContentType)))
		}
		if err := msg.AttachReader(m.Attachment.Name, bytes.NewReader(m.Attachment.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", m.Attachment.Name, err)
		}
	}
	return msg, nil
}
