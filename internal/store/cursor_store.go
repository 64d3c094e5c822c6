package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastUID returns the highest fully-processed UID for (account, folder),
// or 0 when no cursor exists yet.
func (s *SQLiteStore) LastUID(ctx context.Context, accountID int64, folder string) (uint32, error) {
	var uid uint32
	err := s.db.GetContext(ctx, &uid,
		"SELECT last_uid FROM sync_state WHERE account_id = ? AND folder = ?",
		accountID, folder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cursor for account %d folder %s: %w", accountID, folder, err)
	}
	return uid, nil
}

// AdvanceCursor moves the (account, folder) cursor forward to uid. The
// cursor never regresses: an update with a lower UID leaves the stored
// value unchanged, so a stale writer cannot cause messages to be skipped
// or re-ingested.
func (s *SQLiteStore) AdvanceCursor(ctx context.Context, accountID int64, folder string, uid uint32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (account_id, folder, last_uid, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, folder)
		DO UPDATE SET
			last_uid = MAX(last_uid, excluded.last_uid),
			updated_at = excluded.updated_at`,
		accountID, folder, uid, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("advancing cursor for account %d folder %s: %w", accountID, folder, err)
	}
	return nil
}
