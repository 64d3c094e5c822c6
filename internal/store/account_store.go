package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/daygle/mail-archiver/internal/model"
)

// ListEnabledAccounts returns all enabled accounts ordered by name.
// Accounts are owned by the administrative console; the engine only
// reads them and writes back status fields.
func (s *SQLiteStore) ListEnabledAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, type, host, port, username, password_encrypted,
		       transport, ca_bundle, poll_interval_sec,
		       delete_after_processing, enabled,
		       last_heartbeat, last_success, last_error
		FROM accounts
		WHERE enabled = 1
		ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying enabled accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// CreateAccount inserts an account row and returns its ID. The console
// is the usual writer; the engine exposes this for provisioning and tests.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a model.Account) (int64, error) {
	if a.Type == "" {
		a.Type = model.AccountTypeIMAP
	}
	if a.Transport == "" {
		a.Transport = model.TransportTLS
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			name, type, host, port, username, password_encrypted,
			transport, ca_bundle, poll_interval_sec,
			delete_after_processing, enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, string(a.Type), a.Host, a.Port, a.Username, a.PasswordEncrypted,
		string(a.Transport), a.CABundle, a.PollIntervalSec,
		boolToInt(a.DeleteAfterProcessing), boolToInt(a.Enabled),
	)
	if err != nil {
		return 0, fmt.Errorf("creating account %s: %w", a.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading account id: %w", err)
	}

	return id, nil
}

// RecordHeartbeat stamps the account's last_heartbeat. It is written
// before any work is attempted so a hung cycle is still visible.
func (s *SQLiteStore) RecordHeartbeat(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_heartbeat = ? WHERE id = ?",
		time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("recording heartbeat for account %d: %w", accountID, err)
	}
	return nil
}

// RecordSuccess stamps last_success and clears last_error.
func (s *SQLiteStore) RecordSuccess(ctx context.Context, accountID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_success = ?, last_error = NULL, last_heartbeat = ? WHERE id = ?",
		now, now, accountID,
	)
	if err != nil {
		return fmt.Errorf("recording success for account %d: %w", accountID, err)
	}
	return nil
}

// RecordError stores the failure message, truncated to a bounded length.
func (s *SQLiteStore) RecordError(ctx context.Context, accountID int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_error = ?, last_heartbeat = ? WHERE id = ?",
		truncate(msg, MaxErrorLen), time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("recording error for account %d: %w", accountID, err)
	}
	return nil
}

// scanAccount scans an account row from a sqlx.Rows result set.
func scanAccount(rows *sqlx.Rows) (model.Account, error) {
	var (
		a           model.Account
		accountType string
		transport   string
		deleteAfter int
		enabled     int
	)

	err := rows.Scan(
		&a.ID, &a.Name, &accountType, &a.Host, &a.Port,
		&a.Username, &a.PasswordEncrypted,
		&transport, &a.CABundle, &a.PollIntervalSec,
		&deleteAfter, &enabled,
		&a.LastHeartbeat, &a.LastSuccess, &a.LastError,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("scanning account row: %w", err)
	}

	a.Type = model.AccountType(accountType)
	a.Transport = model.TransportMode(transport)
	a.DeleteAfterProcessing = deleteAfter != 0
	a.Enabled = enabled != 0

	return a, nil
}
