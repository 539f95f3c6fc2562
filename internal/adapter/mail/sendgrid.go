// Package mail sends account notifications through SendGrid.
package mail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

// Options configures the notifier. An empty APIKey disables sending.
type Options struct {
	APIKey    string
	FromName  string
	FromEmail string
	Host      string
}

// SendGridNotifier sends transactional mail.
type SendGridNotifier struct {
	key    string
	host   string
	from   *sgmail.Email
	logger *zap.Logger
}

// NewSendGridNotifier constructs a notifier.
func NewSendGridNotifier(opts Options, logger *zap.Logger) *SendGridNotifier {
	if opts.Host == "" {
		opts.Host = defaultHost
	}
	if logger == nil {
		logger = zap.L()
	}
	return &SendGridNotifier{
		key:    opts.APIKey,
		host:   opts.Host,
		from:   sgmail.NewEmail(opts.FromName, opts.FromEmail),
		logger: logger,
	}
}

// PasswordChanged tells the student their password was reset.
func (n *SendGridNotifier) PasswordChanged(ctx context.Context, to, userID string, at time.Time) error {
	if n.key == "" {
		n.logger.Debug("sendgrid disabled, skipping password notification", zap.String("user_id", userID))
		return nil
	}

	subject := "Your TGF-Scholar password was changed"
	text := fmt.Sprintf("The password for account %s was changed on %s (UTC).\nIf this was not you, contact your organization.", userID, at.UTC().Format("2006-01-02 15:04"))
	html := fmt.Sprintf("<p>The password for account <strong>%s</strong> was changed on %s (UTC).</p><p>If this was not you, contact your organization.</p>", userID, at.UTC().Format("2006-01-02 15:04"))

	m := sgmail.NewSingleEmail(n.from, subject, sgmail.NewEmail(userID, to), text, html)

	req := sendgrid.GetRequest(n.key, endpoint, n.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("send password notification: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send password notification: status=%d", res.StatusCode)
	}
	return nil
}
