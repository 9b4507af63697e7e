package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/pairslab/pairscope/internal/alert"
	"github.com/pairslab/pairscope/internal/bar"
	"github.com/pairslab/pairscope/internal/config"
	"github.com/pairslab/pairscope/internal/db"
	"github.com/pairslab/pairscope/internal/exchange"
	"github.com/pairslab/pairscope/internal/export"
	"github.com/pairslab/pairscope/internal/logging"
	"github.com/pairslab/pairscope/internal/metrics"
	"github.com/pairslab/pairscope/internal/notifier"
	"github.com/pairslab/pairscope/internal/session"
)

func main() {
	cfg := config.MustLoad()
	log := logging.New(cfg.LogLevel)
	log.Info().Str("pair", cfg.InstrumentX+"/"+cfg.InstrumentY).Msg("starting pairscope")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	// Storage: Postgres when configured, in-memory otherwise.
	var storage db.Storage
	if cfg.DBConnStr != "" {
		if cfg.RunMigration {
			if err := runMigrations(ctx, cfg.DBConnStr); err != nil {
				log.Fatal().Err(err).Msg("failed to run migrations")
			}
		}
		pgStore, err := db.NewPostgres(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		storage = pgStore
		log.Info().Msg("connected to postgres")
	} else {
		storage = db.NewMemory()
		log.Warn().Msg("no db_conn_str configured, bars are kept in memory only")
	}
	defer storage.Close()

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
	}

	var notify notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notify = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	}

	source := exchange.NewBinanceFutures(cfg.FeedURL, []string{cfg.InstrumentX, cfg.InstrumentY}, log)

	sess, err := session.New(session.Config{
		InstrumentX:       cfg.InstrumentX,
		InstrumentY:       cfg.InstrumentY,
		Intervals:         cfg.Intervals,
		AnalyticsInterval: cfg.AnalyticsInterval,
		WindowSize:        cfg.WindowSize,
		BufferMargin:      cfg.BufferMargin,
		AlertThreshold:    cfg.AlertThreshold,
		AlertPolicy:       alert.Policy(cfg.AlertPolicy),
		MinADFSamples:     cfg.MinADFSamples,
	}, storage, source, notify, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build session")
	}

	if err := sess.Run(ctx); err != nil {
		log.Error().Err(err).Msg("session ended with error")
	}

	writeExports(cfg, sess, log)
}

// writeExports dumps bars and analytics CSVs on shutdown when configured.
func writeExports(cfg config.Config, sess *session.Session, log zerolog.Logger) {
	if cfg.ExportAnalyticsPath != "" {
		if err := export.SnapshotsToFile(cfg.ExportAnalyticsPath, sess.Snapshots()); err != nil {
			log.Error().Err(err).Str("path", cfg.ExportAnalyticsPath).Msg("failed to export analytics CSV")
		} else {
			log.Info().Str("path", cfg.ExportAnalyticsPath).Msg("exported analytics CSV")
		}
	}

	if cfg.ExportBarsPath == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var bars []bar.Bar
	end := time.Now().UTC().Add(time.Hour)
	for _, instrument := range []string{cfg.InstrumentX, cfg.InstrumentY} {
		bs, err := sess.Bars(ctx, instrument, time.Unix(0, 0).UTC(), end)
		if err != nil {
			log.Error().Err(err).Str("instrument", instrument).Msg("failed to read bars for export")
			continue
		}
		bars = append(bars, bs...)
	}
	if err := export.BarsToFile(cfg.ExportBarsPath, bars); err != nil {
		log.Error().Err(err).Str("path", cfg.ExportBarsPath).Msg("failed to export bars CSV")
	} else {
		log.Info().Str("path", cfg.ExportBarsPath).Int("bars", len(bars)).Msg("exported bars CSV")
	}
}

// runMigrations creates the database if it doesn't exist and applies
// scripts/schema.sql.
func runMigrations(ctx context.Context, connStr string) error {
	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	baseConnStr := fmt.Sprintf("postgres://%s:%s@%s/postgres%s",
		u.User.Username(),
		func() string {
			p, _ := u.User.Password()
			return p
		}(),
		u.Host,
		func() string {
			if u.RawQuery != "" {
				return "?" + u.RawQuery
			}
			return ""
		}())

	baseDB, err := sql.Open("postgres", baseConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		if _, err := baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	appDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer appDB.Close()

	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	if _, err := appDB.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}

	return nil
}
