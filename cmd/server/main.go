// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"geosync/internal/canonical/matcher"
	"geosync/internal/canonical/registry"
	canonicalstore "geosync/internal/canonical/store"
	conflicthandler "geosync/internal/conflict/handler"
	conflictmetrics "geosync/internal/conflict/metrics"
	conflictservice "geosync/internal/conflict/service"
	conflictstore "geosync/internal/conflict/store"
	geohandler "geosync/internal/geography/handler"
	geometrics "geosync/internal/geography/metrics"
	geoservice "geosync/internal/geography/service"
	unitstore "geosync/internal/geography/store/unit"
	httpapi "geosync/internal/http"
	"geosync/internal/jwttoken"
	"geosync/internal/platform/config"
	"geosync/internal/platform/httpserver"
	"geosync/internal/platform/logger"
	"geosync/internal/platform/postgres"
	redisclient "geosync/internal/platform/redis"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/ledger/publisher"
	"geosync/pkg/platform/ledger/relay"
	ledgermem "geosync/pkg/platform/ledger/store/memory"
	ledgerpg "geosync/pkg/platform/ledger/store/postgres"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	var (
		db *sql.DB

		geoUnits      geoservice.UnitStore
		conflictUnits conflictservice.UnitStore
		relinker      registry.UnitRelinker
		canonicals    canonicalstore.Store
		cases         conflictservice.CaseStore
		ledgerStore   ledger.Store
		outbox        relay.OutboxStore
		txRunner      geoservice.TxRunner
	)

	if cfg.DatabaseURL != "" {
		var err error
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.InitSchema(context.Background(), db); err != nil {
			log.Error("schema init failed", "error", err)
			os.Exit(1)
		}

		units := unitstore.NewPostgres(db)
		geoUnits, conflictUnits, relinker = units, units, units
		canonicals = canonicalstore.NewPostgres(db)
		cases = conflictstore.NewPostgres(db)
		outboxStore := ledgerpg.New(db)
		ledgerStore, outbox = outboxStore, outboxStore
		txRunner = postgres.NewTxRunner(db)
	} else {
		log.Warn("DATABASE_URL not set, running on in-memory stores")
		units := unitstore.NewMemory()
		geoUnits, conflictUnits, relinker = units, units, units
		canonicals = canonicalstore.NewMemory()
		cases = conflictstore.NewMemory()
		ledgerStore = ledgermem.New()
		txRunner = geoservice.NopTxRunner()
	}

	rdb, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		canonicals = canonicalstore.NewCandidateCache(canonicals, rdb.Client, cfg.CandidateCacheTTL, log)
	}

	reg := registry.New(canonicals,
		registry.WithLogger(log),
		registry.WithRelinker(relinker),
	)

	if cfg.RebuildFromLedger {
		applied, err := ledger.NewReplayer(ledgerStore, log).ReplayFrom(context.Background(), time.Time{}, reg)
		if err != nil {
			log.Error("ledger replay failed", "error", err)
			os.Exit(1)
		}
		log.Info("registry rebuilt from ledger", "entries_applied", applied)
	}

	if cfg.SeedFile != "" {
		raw, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			log.Error("seed file unreadable", "path", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
		var seedUnits []canonicalstore.SeedUnit
		if err := json.Unmarshal(raw, &seedUnits); err != nil {
			log.Error("seed file malformed", "path", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
		created, err := canonicalstore.Seed(context.Background(), canonicals, seedUnits, time.Now().UTC())
		if err != nil {
			log.Error("seeding failed", "error", err)
			os.Exit(1)
		}
		log.Info("canonical registry seeded", "path", cfg.SeedFile, "units_created", created)
	}

	match := matcher.New(canonicals, matcher.Config{
		HighThreshold:  cfg.MatchHighThreshold,
		TieMargin:      cfg.MatchTieMargin,
		FloorThreshold: cfg.MatchFloor,
	}, matcher.WithLogger(log))
	pub := publisher.New(ledgerStore,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics()),
	)

	conflicts := conflictservice.New(cases, conflictUnits, reg, pub, txRunner,
		conflictservice.WithLogger(log),
		conflictservice.WithMetrics(conflictmetrics.New()),
	)
	geography := geoservice.New(geoUnits, match, reg, conflicts, pub, txRunner,
		geoservice.WithLogger(log),
		geoservice.WithMetrics(geometrics.New()),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "geosync")
	router := httpapi.NewRouter(log,
		func(r *http.Request) error {
			if db != nil {
				if err := db.PingContext(r.Context()); err != nil {
					return err
				}
			}
			if rdb != nil {
				return rdb.Client.Ping(r.Context()).Err()
			}
			return nil
		},
		geohandler.New(geography, log, jwtService),
		conflicthandler.New(conflicts, reg, log, cfg.AdminToken),
	)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting geosync", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 && outbox != nil {
		rly, err := relay.New(outbox, relay.Config{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			PollInterval: cfg.RelayPollInterval,
		}, log)
		if err != nil {
			log.Error("ledger relay unavailable", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			if err := rly.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
