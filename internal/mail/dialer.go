package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/model"
)

// AccountDialer routes each account to the dialer for its protocol.
type AccountDialer struct {
	imap Dialer
	pop3 Dialer
}

// NewAccountDialer builds the production dialer set.
func NewAccountDialer(timeout time.Duration, logger *zap.Logger) *AccountDialer {
	return &AccountDialer{
		imap: NewNegotiator(timeout, logger),
		pop3: NewPOP3Dialer(timeout, logger),
	}
}

func (d *AccountDialer) Dial(ctx context.Context, account model.Account, password string) (Session, error) {
	switch account.Type {
	case model.AccountTypePOP3:
		return d.pop3.Dial(ctx, account, password)
	case model.AccountTypeIMAP, "":
		return d.imap.Dial(ctx, account, password)
	default:
		return nil, errorf(KindConfig, "dial", "unknown account type %q", account.Type)
	}
}
