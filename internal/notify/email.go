package notify

import (
	"context"
	"fmt"
	"mime/quotedprintable"
	"net/smtp"
	"strings"
	"time"

	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/errors"
	"github.com/aviatorstc/autopilot/pkg/logging"
)

const sendTimeout = 30 * time.Second

// EmailSender delivers one notification email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMTPSender sends multipart email over SMTP with STARTTLS.
type SMTPSender struct {
	config config.SMTPConfig
	log    *logging.Logger
}

// NewSMTPSender creates an SMTP email sender.
func NewSMTPSender(cfg config.SMTPConfig, log *logging.Logger) *SMTPSender {
	return &SMTPSender{config: cfg, log: log}
}

// Configured reports whether the transport has enough settings to send.
func (s *SMTPSender) Configured() bool {
	return s.config.Server != "" && s.config.From != ""
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if !s.Configured() {
		return errors.NewConfigurationError("smtp transport not configured")
	}

	message := s.buildMessage(to, subject, htmlBody, textBody)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Server)
	}

	port := s.config.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", s.config.Server, port)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.config.From, []string{to}, []byte(message))
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.NewExternalServiceError("smtp", "failed to send email").WithCause(err)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sendTimeout):
		return errors.NewNetworkError("email send timeout")
	}

	s.log.Info("notification email sent",
		"to", to,
		"subject", subject,
	)
	return nil
}

// buildMessage assembles a multipart/alternative MIME message so clients
// without HTML rendering still get the plain text part.
func (s *SMTPSender) buildMessage(to, subject, htmlBody, textBody string) string {
	boundary := fmt.Sprintf("autopilot-%d", time.Now().UnixNano())

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	b.WriteString(encodeQuotedPrintable(textBody))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	b.WriteString(encodeQuotedPrintable(htmlBody))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.String()
}

func encodeQuotedPrintable(body string) string {
	var b strings.Builder
	w := quotedprintable.NewWriter(&b)
	w.Write([]byte(body))
	w.Close()
	return b.String()
}
