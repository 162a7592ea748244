package auth

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"time"

	"github.com/goliatone/go-print"
)

const mailDispatchTimeout = 10 * time.Second

// LogMailer writes messages to the logger instead of sending them. It is the
// development mailer wired by cmd/portal when no transport is configured.
type LogMailer struct {
	logger Logger
}

func NewLogMailer(logger Logger) *LogMailer {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Deliver(ctx context.Context, recipient string, template MailTemplate, params map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.logger.Info("mail to=%s template=%s params=%s", recipient, template, print.MaybePrettyJSON(params))
	return nil
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, recipient string, template MailTemplate, params map[string]string) error

func (f MailerFunc) Deliver(ctx context.Context, recipient string, template MailTemplate, params map[string]string) error {
	return f(ctx, recipient, template, params)
}

// deliverCode sends an OTP synchronously; the caller needs the outcome.
func (s *Auther) deliverCode(ctx context.Context, account *Account, code string) error {
	if s.mailer == nil {
		s.logger.Error("no mailer configured, cannot deliver verification code to account %s", account.ID)
		return ErrDeliveryFailure
	}

	minutes := int(s.otp.ttl() / time.Minute)
	params := escapeParams(map[string]string{
		"name":       account.FullName(),
		"code":       code,
		"expires_in": strconv.Itoa(minutes),
	})

	if err := s.mailer.Deliver(ctx, account.Email, MailTemplateTwoFactorCode, params); err != nil {
		s.logger.Error("verification code delivery failed for account %s: %v", account.ID, err)
		failure := ErrDeliveryFailure.Clone()
		failure.Source = err
		return failure
	}
	return nil
}

// sendMail delivers a message with escaped parameters. A missing mailer is
// logged and is not an error.
func (s *Auther) sendMail(ctx context.Context, recipient string, template MailTemplate, params map[string]string) error {
	if s.mailer == nil {
		s.logger.Warn("no mailer configured, dropping %s mail", template)
		return nil
	}
	return s.mailer.Deliver(ctx, recipient, template, escapeParams(params))
}

// offRequest runs job after the caller has been answered. With sync delivery
// the job runs inline and its error is returned; otherwise it runs detached
// from request cancellation, bounded by mailDispatchTimeout, and errors are
// logged.
func (s *Auther) offRequest(ctx context.Context, name string, job func(context.Context) error) error {
	if s.syncDelivery {
		return job(ctx)
	}

	go func() {
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailDispatchTimeout)
		defer cancel()
		if err := job(jobCtx); err != nil {
			s.logger.Error("%s failed: %v", name, err)
		}
	}()
	return nil
}

func escapeParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = html.EscapeString(v)
	}
	return out
}

func resetLink(baseURL, email, token string) string {
	return fmt.Sprintf("%s?email=%s&token=%s", baseURL, url.QueryEscape(email), url.QueryEscape(token))
}
