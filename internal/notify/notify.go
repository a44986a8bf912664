// Package notify delivers verification codes to prospective users. Delivery
// runs off the request path: workflow steps dispatch and move on, and a
// delivery failure never fails the step that triggered it.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/config"
)

// Notifier delivers a verification code to an email address.
type Notifier interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// dispatchTimeout bounds a single background delivery attempt.
const dispatchTimeout = 30 * time.Second

// Dispatch sends the code on a background goroutine, logging a failure
// instead of surfacing it.
func Dispatch(n Notifier, logger *zap.Logger, email, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := n.SendVerificationCode(ctx, email, code); err != nil {
			logger.Error("verification code delivery failed",
				zap.String("email", email), zap.Error(err))
		}
	}()
}

// LogNotifier writes verification codes to the log. Used in development and
// tests, where outbound mail is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendVerificationCode logs the code instead of delivering it.
func (n *LogNotifier) SendVerificationCode(_ context.Context, email, code string) error {
	n.logger.Info("verification code issued",
		zap.String("email", email), zap.String("code", code))
	return nil
}

// SMTPNotifier delivers verification codes over SMTP. Credentials come from
// the ONBOARD_SMTP_USERNAME and ONBOARD_SMTP_PASSWORD environment variables;
// with neither set the connection is unauthenticated.
type SMTPNotifier struct {
	cfg config.SMTPConfig
}

// NewSMTPNotifier creates an SMTP-backed notifier.
func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// SendVerificationCode sends the code as a plain-text email.
func (n *SMTPNotifier) SendVerificationCode(_ context.Context, email, code string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var auth smtp.Auth
	if user := os.Getenv("ONBOARD_SMTP_USERNAME"); user != "" {
		auth = smtp.PlainAuth("", user, os.Getenv("ONBOARD_SMTP_PASSWORD"), n.cfg.Host)
	}

	msg := fmt.Sprintf(
		"From: %s <%s>\r\nTo: %s\r\nSubject: Your verification code\r\n\r\n"+
			"Your verification code is %s.\r\n",
		n.cfg.FromName, n.cfg.From, email, code,
	)

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}
	return nil
}
