package mail

import (
	"context"

	"github.com/daygle/mail-archiver/internal/model"
)

// Session is an authenticated connection to one mail account. The
// ingestor drives it; fakes implement it in tests.
type Session interface {
	// Folders lists the selectable folders on the server.
	Folders(ctx context.Context) ([]string, error)

	// Select opens a folder. The engine selects read-only unless it has
	// been configured to delete messages after processing.
	Select(ctx context.Context, folder string, readOnly bool) error

	// UIDsAfter returns the UIDs of messages with UID strictly greater
	// than cursor, in ascending order. Cursor 0 means all messages.
	// An empty result is success.
	UIDsAfter(ctx context.Context, cursor uint32) ([]uint32, error)

	// Fetch retrieves the full raw content of one message without
	// altering server-side flags.
	Fetch(ctx context.Context, uid uint32) ([]byte, error)

	// MarkDeleted flags a message for deletion on the server.
	MarkDeleted(ctx context.Context, uid uint32) error

	// Expunge permanently removes messages flagged for deletion.
	Expunge(ctx context.Context) error

	// SupportsCursors reports whether the protocol assigns stable,
	// monotonic UIDs that can back a sync cursor. When false the
	// ingestor fetches everything and relies on the store's
	// deduplication instead of a cursor.
	SupportsCursors() bool

	// Close logs out and releases the connection.
	Close() error
}

// Dialer opens an authenticated Session for an account. The password is
// the already-decrypted secret.
type Dialer interface {
	Dial(ctx context.Context, account model.Account, password string) (Session, error)
}
