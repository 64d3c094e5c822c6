// Package purge deletes archived messages that have outlived the
// configured retention policy.
package purge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/store"
)

// Purger runs at most once per sync cycle. The retention policy is read
// fresh each run because the administrative console may change it at
// any time.
type Purger struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Purger.
func New(s store.Store, logger *zap.Logger) *Purger {
	return &Purger{store: s, logger: logger, now: time.Now}
}

// RunOnce reads the policy and deletes everything older than the cutoff
// in one bounded statement. A disabled policy is a no-op. When the
// policy is enabled the purge timestamp is recorded even if nothing
// matched, so "no work to do" stays distinguishable from "never ran".
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	policy, err := p.store.RetentionPolicy(ctx)
	if err != nil {
		return 0, err
	}

	cutoff, ok := policy.Cutoff(p.now().UTC())
	if !ok {
		return 0, nil
	}

	deleted, err := p.store.PurgeMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if err := p.store.SetSetting(ctx, store.SettingLastPurge, p.now().UTC().Format(time.RFC3339)); err != nil {
		return deleted, err
	}

	if deleted > 0 {
		p.logger.Info("purged expired messages",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	return deleted, nil
}
