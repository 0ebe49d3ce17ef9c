package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/community-lending/pkg/config"
	"github.com/chris/community-lending/pkg/notify"
)

var notifier notify.Notifier

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	mg := notify.NewMailgunNotifier(notify.MailgunConfig{
		Domain:        cfg.Mailgun.Domain,
		APIKey:        cfg.Mailgun.APIKey,
		From:          cfg.Mailgun.From,
		RatePerSecond: cfg.Mailgun.RatePerSecond,
	})
	if !mg.Enabled() {
		log.Fatal("MAILGUN_DOMAIN, MAILGUN_API_KEY and MAILGUN_FROM must be set")
	}
	notifier = mg
}

// HandleRequest delivers the notifications queued by the API.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) error {
	for _, message := range sqsEvent.Records {
		msg, err := notify.Decode(message.Body)
		if err != nil {
			// Malformed messages never succeed; drop them rather than retry forever.
			slog.Error("discarding undecodable notification", "message_id", message.MessageId, "error", err)
			continue
		}

		if err := notifier.Send(ctx, msg); err != nil {
			slog.Error("failed to deliver notification", "message_id", message.MessageId,
				"transaction_id", msg.TransactionId, "subject", msg.Subject, "error", err)
			// Returning an error makes SQS redeliver the batch.
			return err
		}
		slog.Info("notification delivered", "message_id", message.MessageId, "transaction_id", msg.TransactionId)
	}
	return nil
}

func main() {
	lambda.Start(HandleRequest)
}
