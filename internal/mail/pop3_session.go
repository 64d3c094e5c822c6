package mail

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/knadh/go-pop3"
	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/model"
)

// pop3Folder is the single folder a POP3 mailbox exposes.
const pop3Folder = "INBOX"

// POP3Dialer opens sessions for accounts of type pop3. POP3 has no
// folders and no stable numeric UIDs, so sessions derive a synthetic UID
// from the server's UIDL string and do not support cursors; the store's
// (source, folder, uid) deduplication keeps re-fetches idempotent.
type POP3Dialer struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewPOP3Dialer creates a POP3 dialer with the given network timeout.
func NewPOP3Dialer(timeout time.Duration, logger *zap.Logger) *POP3Dialer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &POP3Dialer{timeout: timeout, logger: logger}
}

// Dial connects and authenticates. POP3 predates capability-negotiated
// upgrades in this engine: transport mode tls selects POP3S, anything
// else is a plain connection.
func (d *POP3Dialer) Dial(ctx context.Context, account model.Account, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindNetwork, "pop3 dial", err)
	}

	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        account.Port,
		TLSEnabled:  account.Transport == model.TransportTLS,
		DialTimeout: d.timeout,
	})

	conn, err := client.NewConn()
	if err != nil {
		return nil, newError(KindNetwork, "pop3 dial", err)
	}

	if err := conn.Auth(account.Username, password); err != nil {
		conn.Quit()
		return nil, newError(KindAuth, "pop3 auth", err)
	}

	d.logger.Debug("pop3 session established",
		zap.String("account", account.Name),
		zap.String("addr", account.Addr()),
	)

	return &pop3Session{conn: conn, ids: make(map[uint32]int)}, nil
}

// pop3Session adapts a POP3 connection to the Session interface.
type pop3Session struct {
	conn *pop3.Conn
	ids  map[uint32]int // synthetic UID -> message sequence number
}

func (s *pop3Session) Folders(ctx context.Context) ([]string, error) {
	return []string{pop3Folder}, nil
}

func (s *pop3Session) Select(ctx context.Context, folder string, readOnly bool) error {
	if folder != pop3Folder {
		return errorf(KindProtocol, "pop3 select", "unknown folder %q", folder)
	}
	return nil
}

func (s *pop3Session) UIDsAfter(ctx context.Context, cursor uint32) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindNetwork, "pop3 uidl", err)
	}

	msgs, err := s.conn.Uidl(0)
	if err != nil {
		return nil, newError(KindProtocol, "pop3 uidl", err)
	}

	uids := make([]uint32, 0, len(msgs))
	for _, msg := range msgs {
		uid := syntheticUID(msg.UID)
		s.ids[uid] = msg.ID
		uids = append(uids, uid)
	}

	return uids, nil
}

func (s *pop3Session) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindNetwork, "pop3 retr", err)
	}

	id, ok := s.ids[uid]
	if !ok {
		return nil, errorf(KindProtocol, "pop3 retr", "unknown message UID %d", uid)
	}

	buf, err := s.conn.RetrRaw(id)
	if err != nil {
		return nil, newError(KindProtocol, "pop3 retr", err)
	}

	return buf.Bytes(), nil
}

func (s *pop3Session) MarkDeleted(ctx context.Context, uid uint32) error {
	id, ok := s.ids[uid]
	if !ok {
		return errorf(KindProtocol, "pop3 dele", "unknown message UID %d", uid)
	}

	if err := s.conn.Dele(id); err != nil {
		return newError(KindProtocol, "pop3 dele", err)
	}
	return nil
}

// Expunge is a no-op: POP3 commits DELE marks when the session quits.
func (s *pop3Session) Expunge(ctx context.Context) error {
	return nil
}

func (s *pop3Session) SupportsCursors() bool {
	return false
}

func (s *pop3Session) Close() error {
	return s.conn.Quit()
}

// syntheticUID maps a UIDL string to a stable positive 31-bit integer
// usable as a message key.
func syntheticUID(uidl string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(uidl))
	return h.Sum32() & 0x7FFFFFFF
}
