package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"escrowflow/api"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/events"
	"escrowflow/registry"
	"escrowflow/settlement"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("service_exit", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	outbox := events.NewOutbox()
	ledger := settlement.NewLedger()

	registryService := registry.NewService(pool, nil, outbox)
	if cfg.RegistryOwner != "" {
		set, err := registryService.Init(ctx, registry.InitParams{
			Owner:          cfg.RegistryOwner,
			PlatformFeeBps: cfg.PlatformFeeBps,
			DisputeStake:   cfg.DisputeStake,
		})
		if err != nil {
			return fmt.Errorf("bootstrap registry: %w", err)
		}
		log.Info("registry_ready",
			slog.String("owner", set.Owner),
			slog.Int("fee_bps", int(set.PlatformFeeBps)),
			slog.String("stake", set.DisputeStake.String()))
	}

	escrowService := escrow.NewService(pool, nil, nil, outbox, ledger, nil)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	walletService := settlement.NewWalletService(pool, ledger)

	server := api.NewServer(escrowService, registryService, authService, walletService, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Handler(),
	}

	group, ctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		// Topic travels on each message; setting it here too would make
		// kafka-go reject the write.
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		defer writer.Close()

		relay, err := events.NewRelay(pool, writer, log, events.RelayConfig{
			Topic:        cfg.KafkaTopic,
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		})
		if err != nil {
			return err
		}
		group.Go(func() error {
			err := relay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		log.Warn("outbox_relay_disabled", slog.String("reason", "no kafka brokers configured"))
	}

	group.Go(func() error {
		log.Info("http_listen", slog.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
