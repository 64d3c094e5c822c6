package mail

import (
	"context"
	"fmt"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

// imapSession adapts an authenticated imapclient connection to the
// Session interface.
type imapSession struct {
	cli    *imapclient.Client
	state  connState
	logger *zap.Logger
}

func (s *imapSession) Folders(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx, "list"); err != nil {
		return nil, err
	}

	boxes, err := s.cli.List("", "*", nil).Collect()
	if err != nil {
		return nil, newError(KindProtocol, "list", err)
	}

	var folders []string
	for _, box := range boxes {
		if slices.Contains(box.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		folders = append(folders, box.Mailbox)
	}

	return folders, nil
}

func (s *imapSession) Select(ctx context.Context, folder string, readOnly bool) error {
	if err := s.ready(ctx, "select"); err != nil {
		return err
	}

	opts := &imap.SelectOptions{ReadOnly: readOnly}
	if _, err := s.cli.Select(folder, opts).Wait(); err != nil {
		return newError(KindProtocol, "select", err)
	}
	return nil
}

func (s *imapSession) UIDsAfter(ctx context.Context, cursor uint32) ([]uint32, error) {
	if err := s.ready(ctx, "search"); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if cursor > 0 {
		// cursor+1:* selects UIDs strictly greater than the last
		// processed one.
		criteria.UID = []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(cursor + 1), Stop: 0}},
		}
	}

	data, err := s.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, newError(KindProtocol, "uid search", err)
	}

	var uids []uint32
	for _, uid := range data.AllUIDs() {
		// Servers answer a UID range n:* with the last message even
		// when its UID is below n; filter those out.
		if uint32(uid) > cursor {
			uids = append(uids, uint32(uid))
		}
	}
	slices.Sort(uids)

	return uids, nil
}

func (s *imapSession) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := s.ready(ctx, "fetch"); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	cmd := s.cli.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		return nil, errorf(KindProtocol, "fetch", "message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, newError(KindProtocol, "fetch", err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, errorf(KindProtocol, "fetch", "no body section for UID %d", uid)
	}

	if err := cmd.Close(); err != nil {
		return nil, newError(KindProtocol, "fetch", err)
	}

	return raw, nil
}

func (s *imapSession) MarkDeleted(ctx context.Context, uid uint32) error {
	if err := s.ready(ctx, "store flags"); err != nil {
		return err
	}

	cmd := s.cli.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)

	if err := cmd.Close(); err != nil {
		return newError(KindProtocol, "store flags", err)
	}
	return nil
}

func (s *imapSession) Expunge(ctx context.Context) error {
	if err := s.ready(ctx, "expunge"); err != nil {
		return err
	}

	if err := s.cli.Expunge().Close(); err != nil {
		return newError(KindProtocol, "expunge", err)
	}
	return nil
}

func (s *imapSession) SupportsCursors() bool {
	return true
}

func (s *imapSession) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed

	if err := s.cli.Logout().Wait(); err != nil {
		// The logout handshake is best-effort; make sure the socket goes.
		s.cli.Close()
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

// ready checks the cancellation context and marks the session in use.
// imapclient commands do not take a context, so cancellation is honored
// at operation boundaries; the transport's I/O deadlines bound each
// individual command.
func (s *imapSession) ready(ctx context.Context, op string) error {
	if s.state == stateClosed {
		return errorf(KindProtocol, op, "session is closed")
	}
	if err := ctx.Err(); err != nil {
		return newError(KindNetwork, op, err)
	}
	s.state = stateInUse
	return nil
}
