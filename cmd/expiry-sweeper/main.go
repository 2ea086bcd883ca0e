// Command expiry-sweeper is the Lambda form of the consultation expiry sweep.
// It runs one sweep per scheduled invocation against the configured store.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/consultation"
	"github.com/telecare/telecare/internal/platform/audit"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/mongostore"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "expiry-sweeper").Logger()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.ValidateStore(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	repo, sink, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.StoreDriver).Msg("failed to open store")
	}

	// Expiry never assigns doctors, so no resolver is wired.
	svc := consultation.NewService(repo, nil, sink, cfg.ConsultationTTL, logger)

	h, err := newSweepHandler(svc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create handler")
	}
	lambda.Start(h.Handle)
}

// openStore connects once per container; warm invocations reuse the
// connection.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (consultation.Repository, audit.Sink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.StoreDriver == "mongodb" {
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return consultation.NewRepoMongo(ms.Database()), audit.NewLogSink(logger), nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, 0)
	if err != nil {
		return nil, nil, err
	}
	return consultation.NewRepoPG(pool), audit.NewPGSink(pool, logger), nil
}
