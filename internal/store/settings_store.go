package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/daygle/mail-archiver/internal/model"
)

// Setting keys used by the engine. The settings table is shared with the
// administrative console, which owns the retention policy values.
const (
	SettingEnablePurge    = "enable_purge"
	SettingRetentionValue = "retention_value"
	SettingRetentionUnit  = "retention_unit"
	SettingLastPurge      = "last_purge"
)

// GetSetting returns the value for key, or "" when the key is absent.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting inserts or replaces a settings key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %q: %w", key, err)
	}
	return nil
}

// RetentionPolicy assembles the purge policy from the settings table.
// Missing or malformed values yield a disabled policy rather than an
// error; the console is responsible for keeping these sane.
func (s *SQLiteStore) RetentionPolicy(ctx context.Context) (model.RetentionPolicy, error) {
	enabled, err := s.GetSetting(ctx, SettingEnablePurge)
	if err != nil {
		return model.RetentionPolicy{}, err
	}
	rawValue, err := s.GetSetting(ctx, SettingRetentionValue)
	if err != nil {
		return model.RetentionPolicy{}, err
	}
	unit, err := s.GetSetting(ctx, SettingRetentionUnit)
	if err != nil {
		return model.RetentionPolicy{}, err
	}

	policy := model.RetentionPolicy{
		Enabled: enabled == "true",
		Unit:    model.RetentionUnit(unit),
	}
	if v, convErr := strconv.Atoi(rawValue); convErr == nil {
		policy.Value = v
	}

	return policy, nil
}

// AppendLog writes one row to the engine log consumed by the console's
// log viewer. Message and details are truncated to their column bounds.
func (s *SQLiteStore) AppendLog(ctx context.Context, level, source, message, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (timestamp, level, source, message, details)
		VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), level, source,
		truncate(message, MaxErrorLen), truncate(details, MaxDetailsLen),
	)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	return nil
}
