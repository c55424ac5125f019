// Package mail delivers one-time codes to users. The core owns no retry
// logic; a failed send is reported to the caller and nothing more.
package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"
)

// Sender delivers a verification code to an email address.
type Sender interface {
	Send(ctx context.Context, email, code string) error
}

// SMTPSender sends codes over plain SMTP with optional auth.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Send delivers the code as a small HTML message.
func (s *SMTPSender) Send(ctx context.Context, email, code string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your Verification Code\r\n"+
		"MIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n"+
		"<p>Your verification code is <b>%s</b>. It expires in 5 minutes.</p>\r\n",
		s.From, email, code)

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	if err := smtp.SendMail(addr, auth, s.From, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", email, err)
	}
	return nil
}

// LogSender logs codes instead of sending them. Dev mode only; never use
// where real users register.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, email, code string) error {
	log.Info().Str("email", email).Str("code", code).Msg("otp code issued (log sender)")
	return nil
}
