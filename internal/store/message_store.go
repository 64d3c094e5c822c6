package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/daygle/mail-archiver/internal/model"
)

// PutMessage persists one archived message. The raw bytes are gzip
// compressed and a SHA-256 signature of the uncompressed content is
// computed at write time. The (source, folder, uid) key is unique; a
// duplicate call performs no second insert and reports PutAlreadyPresent.
func (s *SQLiteStore) PutMessage(ctx context.Context, msg model.IncomingMessage) (PutResult, error) {
	compressed, signature, err := sealRaw(msg.Raw)
	if err != nil {
		return PutAlreadyPresent, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (
			id, source, folder, uid,
			subject, sender, recipients, date,
			raw_email, signature, scanned_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), msg.Source, msg.Folder, msg.UID,
		msg.Subject, msg.Sender, msg.Recipients, nullableTime(msg.Date),
		compressed, signature, msg.ScannedAt, time.Now().UTC(),
	)
	if err != nil {
		return PutAlreadyPresent, fmt.Errorf("storing message %s/%s/%d: %w", msg.Source, msg.Folder, msg.UID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return PutAlreadyPresent, fmt.Errorf("checking insert result: %w", err)
	}
	if n == 0 {
		return PutAlreadyPresent, nil
	}
	return PutStored, nil
}

// PutQuarantined persists a virus-flagged message into the quarantine
// namespace instead of the main archive, with the same idempotency rule.
func (s *SQLiteStore) PutQuarantined(ctx context.Context, msg model.IncomingMessage, virusName string) (PutResult, error) {
	compressed, signature, err := sealRaw(msg.Raw)
	if err != nil {
		return PutAlreadyPresent, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO quarantined_messages (
			id, original_source, original_folder, original_uid,
			subject, sender, recipients, date,
			raw_email, signature, virus_name, scanned_at, quarantined_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), msg.Source, msg.Folder, msg.UID,
		msg.Subject, msg.Sender, msg.Recipients, nullableTime(msg.Date),
		compressed, signature, virusName, msg.ScannedAt, time.Now().UTC(),
	)
	if err != nil {
		return PutAlreadyPresent, fmt.Errorf("quarantining message %s/%s/%d: %w", msg.Source, msg.Folder, msg.UID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return PutAlreadyPresent, fmt.Errorf("checking insert result: %w", err)
	}
	if n == 0 {
		return PutAlreadyPresent, nil
	}
	return PutStored, nil
}

// GetMessage retrieves one archived message by its natural key, with the
// raw bytes decompressed.
func (s *SQLiteStore) GetMessage(ctx context.Context, source, folder string, uid uint32) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, source, folder, uid, subject, sender, recipients, date,
		       raw_email, signature, scanned_at, created_at
		FROM messages
		WHERE source = ? AND folder = ? AND uid = ?`,
		source, folder, uid,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s/%s/%d: %w", source, folder, uid, err)
	}

	raw, err := gunzip(msg.RawEmail)
	if err != nil {
		return nil, fmt.Errorf("decompressing message %s/%s/%d: %w", source, folder, uid, err)
	}
	msg.RawEmail = raw

	return &msg, nil
}

// CountMessages returns the number of rows in the main archive.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM messages"); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// CountQuarantined returns the number of quarantined rows.
func (s *SQLiteStore) CountQuarantined(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM quarantined_messages"); err != nil {
		return 0, fmt.Errorf("counting quarantined messages: %w", err)
	}
	return n, nil
}

// PurgeMessagesBefore deletes archived messages created before cutoff in
// one bounded statement and returns the number of rows removed. Zero
// matches is success.
func (s *SQLiteStore) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE created_at < ?", cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking purge result: %w", err)
	}
	return n, nil
}

// sealRaw compresses the raw message bytes and computes the content
// signature over the uncompressed input.
func sealRaw(raw []byte) (compressed []byte, signature string, err error) {
	sum := sha256.Sum256(raw)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, "", fmt.Errorf("compressing message: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("compressing message: %w", err)
	}

	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

// gunzip decompresses stored message bytes.
func gunzip(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// nullableTime converts a zero time to NULL for storage.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// scanMessage scans a message row from a sqlx.Row.
func scanMessage(row *sqlx.Row) (model.Message, error) {
	var (
		msg  model.Message
		date sql.NullTime
	)

	err := row.Scan(
		&msg.ID, &msg.Source, &msg.Folder, &msg.UID,
		&msg.Subject, &msg.Sender, &msg.Recipients, &date,
		&msg.RawEmail, &msg.Signature, &msg.ScannedAt, &msg.CreatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}

	if date.Valid {
		msg.Date = &date.Time
	}

	return msg, nil
}
