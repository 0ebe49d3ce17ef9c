package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v5"
	"golang.org/x/time/rate"
)

const sendTimeout = 10 * time.Second

// ErrDisabled is returned by a MailgunNotifier built without credentials.
var ErrDisabled = errors.New("email delivery is not configured")

// MailgunConfig carries the Mailgun credentials and sender identity.
type MailgunConfig struct {
	Domain        string
	APIKey        string
	From          string
	RatePerSecond float64
}

// MailgunNotifier delivers messages as email, throttled to the account's send rate.
type MailgunNotifier struct {
	client  mailgun.Mailgun
	domain  string
	from    string
	limiter *rate.Limiter
}

var _ Notifier = (*MailgunNotifier)(nil)

// NewMailgunNotifier creates a notifier. Without a domain or API key every
// Send fails with ErrDisabled.
func NewMailgunNotifier(cfg MailgunConfig) *MailgunNotifier {
	n := &MailgunNotifier{domain: cfg.Domain, from: cfg.From}
	if cfg.Domain != "" && cfg.APIKey != "" {
		n.client = mailgun.NewMailgun(cfg.APIKey)
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	n.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	return n
}

// Enabled reports whether credentials were configured.
func (n *MailgunNotifier) Enabled() bool {
	return n.client != nil
}

// Send delivers msg to its To and CC recipients.
func (n *MailgunNotifier) Send(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return ErrDisabled
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("notification %q has no recipients", msg.Subject)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	message := mailgun.NewMessage(n.domain, n.from, msg.Subject, msg.Body, msg.To...)
	for _, cc := range msg.CC {
		message.AddCC(cc)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := n.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send %q to %v: %w", msg.Subject, msg.To, err)
	}
	slog.Info("email sent", "transaction_id", msg.TransactionId, "subject", msg.Subject, "response", resp)
	return nil
}
