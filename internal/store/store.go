package store

import (
	"context"
	"time"

	"github.com/daygle/mail-archiver/internal/model"
)

// PutResult reports whether a store call inserted a new row or found an
// existing one. Duplicate ingestion attempts are no-ops, not errors.
type PutResult int

const (
	PutStored PutResult = iota
	PutAlreadyPresent
)

// Bounded lengths for status and log strings, matching what the
// dashboard columns can hold.
const (
	MaxErrorLen   = 500
	MaxDetailsLen = 4000
)

// Store defines the persistence interface for accounts, sync cursors,
// archived messages, quarantine, settings, and the engine log.
type Store interface {
	// === Accounts ===

	ListEnabledAccounts(ctx context.Context) ([]model.Account, error)
	CreateAccount(ctx context.Context, a model.Account) (int64, error)
	RecordHeartbeat(ctx context.Context, accountID int64) error
	RecordSuccess(ctx context.Context, accountID int64) error
	RecordError(ctx context.Context, accountID int64, msg string) error

	// === Sync cursors ===

	LastUID(ctx context.Context, accountID int64, folder string) (uint32, error)
	AdvanceCursor(ctx context.Context, accountID int64, folder string, uid uint32) error

	// === Messages ===

	PutMessage(ctx context.Context, msg model.IncomingMessage) (PutResult, error)
	PutQuarantined(ctx context.Context, msg model.IncomingMessage, virusName string) (PutResult, error)
	GetMessage(ctx context.Context, source, folder string, uid uint32) (*model.Message, error)
	CountMessages(ctx context.Context) (int, error)
	CountQuarantined(ctx context.Context) (int, error)
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// === Settings ===

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	RetentionPolicy(ctx context.Context) (model.RetentionPolicy, error)

	// === Engine log ===

	AppendLog(ctx context.Context, level, source, message, details string) error

	Close() error
}
