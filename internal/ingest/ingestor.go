// Package ingest pulls new messages from an authenticated mail session
// and persists them exactly once, advancing the per-folder sync cursor.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/mail"
	"github.com/daygle/mail-archiver/internal/model"
	"github.com/daygle/mail-archiver/internal/scan"
	"github.com/daygle/mail-archiver/internal/store"
)

// Stats summarizes one account's sync pass.
type Stats struct {
	Folders     int
	Fetched     int
	Stored      int
	Duplicates  int
	Quarantined int
}

// Ingestor synchronizes folders of one account at a time. It is safe to
// reuse across accounts because all mutable state lives in the store,
// keyed per (account, folder).
type Ingestor struct {
	store   store.Store
	scanner scan.Scanner
	logger  *zap.Logger
}

// New creates an Ingestor.
func New(s store.Store, scanner scan.Scanner, logger *zap.Logger) *Ingestor {
	if scanner == nil {
		scanner = scan.Nop{}
	}
	return &Ingestor{store: s, scanner: scanner, logger: logger}
}

// SyncAccount lists the account's folders once and processes each one
// independently: a failure in one folder is logged and does not abort
// the others. The returned error is non-nil only when the folder listing
// itself fails or when every folder fails.
func (in *Ingestor) SyncAccount(ctx context.Context, sess mail.Session, account model.Account) (Stats, error) {
	var stats Stats

	folders, err := sess.Folders(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing folders for %s: %w", account.Name, err)
	}

	var folderErrs []error
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := in.syncFolder(ctx, sess, account, folder, &stats); err != nil {
			folderErrs = append(folderErrs, fmt.Errorf("folder %s: %w", folder, err))
			in.logger.Warn("folder sync failed",
				zap.String("account", account.Name),
				zap.String("folder", folder),
				zap.Error(err),
			)
			_ = in.store.AppendLog(ctx, "error", "account:"+account.Name,
				fmt.Sprintf("folder %s sync failed", folder), err.Error())
			continue
		}
		stats.Folders++
	}

	if len(folderErrs) > 0 && stats.Folders == 0 {
		return stats, fmt.Errorf("all folders failed for %s: %w", account.Name, errors.Join(folderErrs...))
	}

	return stats, nil
}

// syncFolder ingests every message with UID greater than the stored
// cursor, in ascending order, then advances the cursor to the highest
// UID that was durably stored. Storage always commits before the cursor
// moves, so a crash between the two re-fetches (at-least-once) and the
// idempotent store makes the re-store a no-op.
func (in *Ingestor) syncFolder(ctx context.Context, sess mail.Session, account model.Account, folder string, stats *Stats) error {
	// Read-only select unless we are configured to delete after
	// processing; the engine never alters server-side state otherwise.
	if err := sess.Select(ctx, folder, !account.DeleteAfterProcessing); err != nil {
		return err
	}

	var cursor uint32
	if sess.SupportsCursors() {
		var err error
		cursor, err = in.store.LastUID(ctx, account.ID, folder)
		if err != nil {
			return err
		}
	}

	uids, err := sess.UIDsAfter(ctx, cursor)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	maxStored := cursor
	var committed []uint32
	var loopErr error

	for _, uid := range uids {
		if uid <= cursor {
			continue
		}
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}

		raw, err := sess.Fetch(ctx, uid)
		if err != nil {
			loopErr = err
			break
		}
		stats.Fetched++

		meta := parseHeaders(raw)
		verdict := in.scanner.Scan(ctx, raw)

		msg := model.IncomingMessage{
			Source:     account.Name,
			Folder:     folder,
			UID:        uid,
			Subject:    meta.subject,
			Sender:     meta.sender,
			Recipients: meta.recipients,
			Date:       meta.date,
			Raw:        raw,
			ScannedAt:  &verdict.ScannedAt,
		}

		var result store.PutResult
		if verdict.Detected {
			result, err = in.store.PutQuarantined(ctx, msg, verdict.Name)
		} else {
			result, err = in.store.PutMessage(ctx, msg)
		}
		if err != nil {
			loopErr = fmt.Errorf("storing UID %d: %w", uid, err)
			break
		}

		switch {
		case result == store.PutAlreadyPresent:
			stats.Duplicates++
		case verdict.Detected:
			stats.Quarantined++
			in.logger.Warn("message quarantined",
				zap.String("account", account.Name),
				zap.String("folder", folder),
				zap.Uint32("uid", uid),
				zap.String("virus", verdict.Name),
			)
		default:
			stats.Stored++
		}

		committed = append(committed, uid)
		if uid > maxStored {
			maxStored = uid
		}
	}

	// Advance the cursor over what actually committed even when a later
	// message failed, but never persist an advance without its message.
	if sess.SupportsCursors() && maxStored > cursor {
		if err := in.store.AdvanceCursor(ctx, account.ID, folder, maxStored); err != nil {
			return errors.Join(loopErr, fmt.Errorf("advancing cursor to %d: %w", maxStored, err))
		}
	}

	if account.DeleteAfterProcessing && len(committed) > 0 {
		in.deleteCommitted(ctx, sess, account, folder, committed)
	}

	return loopErr
}

// deleteCommitted removes messages from the server once their storage
// commit and cursor advance are durable. Deletion failures are logged
// and abandoned; the messages simply stay on the server.
func (in *Ingestor) deleteCommitted(ctx context.Context, sess mail.Session, account model.Account, folder string, uids []uint32) {
	for _, uid := range uids {
		if err := sess.MarkDeleted(ctx, uid); err != nil {
			in.logger.Warn("marking message deleted failed",
				zap.String("account", account.Name),
				zap.String("folder", folder),
				zap.Uint32("uid", uid),
				zap.Error(err),
			)
			return
		}
	}

	if err := sess.Expunge(ctx); err != nil {
		in.logger.Warn("expunge failed",
			zap.String("account", account.Name),
			zap.String("folder", folder),
			zap.Error(err),
		)
	}
}

// headerMeta is the best-effort parse of a message's headers.
type headerMeta struct {
	subject    string
	sender     string
	recipients string
	date       time.Time
}

// parseHeaders extracts subject/sender/recipients/date from raw message
// bytes. Every failure degrades to blank fields; nothing here may
// prevent storage of the raw content.
func parseHeaders(raw []byte) headerMeta {
	var meta headerMeta

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return meta
	}
	defer mr.Close()

	header := mr.Header
	if subject, err := header.Subject(); err == nil {
		meta.subject = subject
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		meta.sender = from[0].Address
	}

	var recipients []string
	for _, key := range []string{"To", "Cc"} {
		list, err := header.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range list {
			recipients = append(recipients, addr.Address)
		}
	}
	meta.recipients = strings.Join(recipients, ", ")

	if date, err := header.Date(); err == nil {
		meta.date = date
	}

	return meta
}
