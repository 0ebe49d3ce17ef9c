package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/community-lending/pkg/config"
	"github.com/chris/community-lending/pkg/ledger"
	dydbstore "github.com/chris/community-lending/pkg/storage/dynamodb"
)

var ledgers *ledger.Ledger

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	if err := cfg.RequireTables(); err != nil {
		log.Fatal(err)
	}

	store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), dydbstore.Tables{
		Items:         cfg.Tables.Items,
		Users:         cfg.Tables.Users,
		Counters:      cfg.Tables.Counters,
		ExchangeCache: cfg.Tables.ExchangeCache,
		Transactions:  cfg.Tables.Transactions,
	}, cfg.CounterBatchSize)
	ledgers = ledger.New(store, store, store, store, cfg.LedgerLease)
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) error {
	slog.Info("starting reconciliation of stale category ledgers")

	released, err := ledgers.ReleaseStale(ctx)
	if err != nil {
		slog.Error("failed to release stale ledgers", "released", released, "error", err)
		return err
	}

	slog.Info("reconciliation finished", "released", released)
	return nil
}

func main() {
	lambda.Start(HandleRequest)
}
