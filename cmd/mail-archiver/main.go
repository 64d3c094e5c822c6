package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/config"
	"github.com/daygle/mail-archiver/internal/ingest"
	"github.com/daygle/mail-archiver/internal/logging"
	"github.com/daygle/mail-archiver/internal/mail"
	"github.com/daygle/mail-archiver/internal/purge"
	"github.com/daygle/mail-archiver/internal/scan"
	"github.com/daygle/mail-archiver/internal/secret"
	"github.com/daygle/mail-archiver/internal/store"
	"github.com/daygle/mail-archiver/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mail-archiver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	cipher, err := secret.Resolve(cfg.Security.MasterKey)
	if err != nil {
		return fmt.Errorf("resolving master key: %w", err)
	}

	var scanner scan.Scanner = scan.Nop{}
	if cfg.Scanner.Enabled {
		scanner = scan.NewClamAV(cfg.Scanner.Address, cfg.Scanner.MaxBytes, logger)
		logger.Info("virus scanning enabled", zap.String("address", cfg.Scanner.Address))
	}

	dialer := mail.NewAccountDialer(cfg.Worker.OpTimeout(), logger)
	ingestor := ingest.New(st, scanner, logger)
	purger := purge.New(st, logger)

	w := worker.New(
		st,
		dialer,
		ingestor,
		purger,
		cipher,
		logger,
		cfg.Worker.DefaultPollInterval(),
		cfg.Worker.ShutdownGrace(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mail-archiver starting",
		zap.String("database", cfg.Database.Path),
		zap.Duration("poll_interval", cfg.Worker.DefaultPollInterval()),
	)

	return w.Run(ctx)
}
