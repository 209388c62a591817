package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/repository"
	"github.com/xenking/kart-checkout/internal/seed"
)

func main() {
	var (
		databaseURL string
		seedFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "", "path to products and users JSON file (.gz accepted); empty seeds the demo catalog")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile string) error {
	data, err := seed.Default()
	if seedFile != "" {
		slog.Info("reading seed file", slog.String("path", seedFile))
		data, err = seed.Load(seedFile)
	}
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := data.Apply(ctx, seed.Postgres(repository.NewStore(pool))); err != nil {
		return err
	}

	slog.Info("upserted seed data",
		slog.Int("products", len(data.Products)),
		slog.Int("users", len(data.Users)),
	)
	return nil
}
