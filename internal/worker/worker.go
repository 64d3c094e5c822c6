// Package worker drives the archive loop: one pass over all enabled
// accounts, a retention purge, then sleep, forever.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/ingest"
	"github.com/daygle/mail-archiver/internal/mail"
	"github.com/daygle/mail-archiver/internal/model"
	"github.com/daygle/mail-archiver/internal/store"
)

// syncer runs one account's ingestion pass.
type syncer interface {
	SyncAccount(ctx context.Context, sess mail.Session, account model.Account) (ingest.Stats, error)
}

// purgeRunner runs the retention purge once.
type purgeRunner interface {
	RunOnce(ctx context.Context) (int64, error)
}

// secretCipher decrypts account secrets on read.
type secretCipher interface {
	Decrypt(token string) (string, error)
}

// Worker owns the outer scheduling loop. Accounts are processed
// sequentially within a cycle; each account's failure is recorded
// against that account and never disturbs the others.
type Worker struct {
	store    store.Store
	dialer   mail.Dialer
	ingestor syncer
	purger   purgeRunner
	secrets  secretCipher
	logger   *zap.Logger

	defaultInterval time.Duration
	shutdownGrace   time.Duration
}

// New creates a Worker.
func New(
	s store.Store,
	dialer mail.Dialer,
	ingestor syncer,
	purger purgeRunner,
	secrets secretCipher,
	logger *zap.Logger,
	defaultInterval time.Duration,
	shutdownGrace time.Duration,
) *Worker {
	if defaultInterval <= 0 {
		defaultInterval = 5 * time.Minute
	}
	if shutdownGrace <= 0 {
		shutdownGrace = 10 * time.Second
	}
	return &Worker{
		store:           s,
		dialer:          dialer,
		ingestor:        ingestor,
		purger:          purger,
		secrets:         secrets,
		logger:          logger,
		defaultInterval: defaultInterval,
		shutdownGrace:   shutdownGrace,
	}
}

// Run loops until ctx is cancelled. It returns a non-nil error only for
// unrecoverable resource exhaustion (e.g. disk full), which must
// terminate the process loudly rather than spin silently.
func (w *Worker) Run(ctx context.Context) error {
	for {
		sleep, err := w.RunCycle(ctx)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		case <-time.After(sleep):
		}
	}
}

// RunCycle performs one pass over all enabled accounts followed by the
// retention purge, and returns how long to sleep before the next pass.
func (w *Worker) RunCycle(ctx context.Context) (time.Duration, error) {
	accounts, err := w.store.ListEnabledAccounts(ctx)
	if err != nil {
		if isResourceExhaustion(err) {
			return 0, fmt.Errorf("listing accounts: %w", err)
		}
		w.logger.Error("listing accounts failed", zap.Error(err))
		return w.defaultInterval, nil
	}

	sleep := w.defaultInterval
	for _, account := range accounts {
		if ctx.Err() != nil {
			return sleep, nil
		}

		if interval := account.Interval(w.defaultInterval); interval < sleep {
			sleep = interval
		}

		if err := w.syncAccount(ctx, account); err != nil {
			if isResourceExhaustion(err) {
				return 0, fmt.Errorf("account %s: %w", account.Name, err)
			}
			w.recordFailure(ctx, account, err)
		}
	}

	if ctx.Err() == nil {
		if _, err := w.purger.RunOnce(ctx); err != nil {
			if isResourceExhaustion(err) {
				return 0, fmt.Errorf("retention purge: %w", err)
			}
			w.logger.Error("retention purge failed", zap.Error(err))
		}
	}

	return sleep, nil
}

// syncAccount runs the full negotiate-then-ingest path for one account.
// The heartbeat is written before any work so a hang is visible even if
// the cycle never completes.
func (w *Worker) syncAccount(ctx context.Context, account model.Account) error {
	if err := w.store.RecordHeartbeat(ctx, account.ID); err != nil {
		return err
	}

	password, err := w.secrets.Decrypt(account.PasswordEncrypted)
	if err != nil {
		return &mail.Error{Kind: mail.KindConfig, Op: "decrypt secret", Err: err}
	}

	sess, err := w.dialer.Dial(ctx, account, password)
	if err != nil {
		return err
	}
	defer w.closeSession(sess, account.Name)

	stats, err := w.ingestor.SyncAccount(ctx, sess, account)
	if err != nil {
		return err
	}

	if err := w.store.RecordSuccess(ctx, account.ID); err != nil {
		return err
	}

	w.logger.Info("account synced",
		zap.String("account", account.Name),
		zap.Int("folders", stats.Folders),
		zap.Int("stored", stats.Stored),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("quarantined", stats.Quarantined),
	)

	return nil
}

// recordFailure converts an account-level error into recorded status: a
// bounded last_error string plus a row in the engine log. Nothing
// propagates; the account is retried on the next scheduled pass.
func (w *Worker) recordFailure(ctx context.Context, account model.Account, err error) {
	msg := fmt.Sprintf("error processing account %s: %v", account.Name, err)

	w.logger.Error("account sync failed",
		zap.String("account", account.Name),
		zap.String("kind", mail.KindOf(err).String()),
		zap.Error(err),
	)

	if dbErr := w.store.RecordError(ctx, account.ID, msg); dbErr != nil {
		w.logger.Error("recording account error failed", zap.Error(dbErr))
	}
	if dbErr := w.store.AppendLog(ctx, "error", "account:"+account.Name, msg, ""); dbErr != nil {
		w.logger.Error("appending log entry failed", zap.Error(dbErr))
	}
}

// closeSession gives the logout handshake a bounded grace period before
// abandoning it.
func (w *Worker) closeSession(sess mail.Session, account string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Close(); err != nil {
			w.logger.Debug("session close failed",
				zap.String("account", account), zap.Error(err))
		}
	}()

	select {
	case <-done:
	case <-time.After(w.shutdownGrace):
		w.logger.Warn("session close timed out", zap.String("account", account))
	}
}

// isResourceExhaustion reports whether err means the storage layer is
// out of space. This is the one condition the loop must not absorb.
func isResourceExhaustion(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	return strings.Contains(err.Error(), "disk is full") ||
		strings.Contains(err.Error(), "database or disk is full")
}
