package mail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/model"
)

// connState tracks the negotiation state machine. Transitions are
// forward-only; any failure forces stateClosed.
type connState int

const (
	stateDisconnected connState = iota
	stateTransportOpen
	stateEncryptionUpgraded
	stateAuthenticated
	stateInUse
	stateClosed
)

// Capabilities the negotiator keys decisions on.
const (
	capStartTLS      = imap.Cap("STARTTLS")
	capLoginDisabled = imap.Cap("LOGINDISABLED")
	capAuthPlain     = imap.Cap("AUTH=PLAIN")
)

// Negotiator opens transports to IMAP servers, upgrades them to TLS as
// the account's transport mode demands, and authenticates with the best
// mechanism the server advertises.
type Negotiator struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewNegotiator creates a Negotiator whose network operations are
// bounded by timeout.
func NewNegotiator(timeout time.Duration, logger *zap.Logger) *Negotiator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Negotiator{timeout: timeout, logger: logger}
}

// Dial returns an authenticated session for the account, or a classified
// error. On any failure the partially-opened transport is closed before
// returning; no path leaks a socket.
func (n *Negotiator) Dial(ctx context.Context, account model.Account, password string) (Session, error) {
	cli, state, err := n.open(ctx, account)
	if err != nil {
		return nil, err
	}

	caps, err := cli.Capability().Wait()
	if err != nil {
		cli.Close()
		return nil, newError(KindProtocol, "capability", err)
	}

	if err := authenticate(imapAuthClient{cli}, caps, account.Username, password); err != nil {
		// Logout is pointless on a failed login; just drop the transport.
		cli.Close()
		return nil, err
	}
	state = stateAuthenticated

	n.logger.Debug("imap session established",
		zap.String("account", account.Name),
		zap.String("addr", account.Addr()),
		zap.String("transport", string(account.Transport)),
	)

	return &imapSession{cli: cli, state: state, logger: n.logger}, nil
}

// open establishes the transport for the account's mode and returns the
// client positioned after the server greeting (and after the encryption
// upgrade, where one applies). Capabilities cached from before an
// upgrade are untrustworthy, so callers must re-query them.
func (n *Negotiator) open(ctx context.Context, account model.Account) (*imapclient.Client, connState, error) {
	opts, err := n.clientOptions(account)
	if err != nil {
		return nil, stateClosed, err
	}
	addr := account.Addr()

	switch account.Transport {
	case model.TransportTLS:
		conn, err := n.dialTCP(ctx, addr)
		if err != nil {
			return nil, stateClosed, newError(KindNetwork, "dial", err)
		}

		tlsConn := tls.Client(conn, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, stateClosed, newError(KindNetwork, "tls handshake", err)
		}

		cli := imapclient.New(tlsConn, opts)
		if err := cli.WaitGreeting(); err != nil {
			cli.Close()
			return nil, stateClosed, newError(KindProtocol, "greeting", err)
		}
		return cli, stateEncryptionUpgraded, nil

	case model.TransportSTARTTLS:
		// The upgrade command is only issued once the server has
		// advertised it. A server that does not offer STARTTLS makes
		// this account misconfigured, not unlucky.
		caps, err := n.precheckCapabilities(ctx, addr, opts)
		if err != nil {
			return nil, stateClosed, err
		}
		if !caps.Has(capStartTLS) {
			return nil, stateClosed, errorf(KindConfig, "starttls",
				"server %s does not offer STARTTLS", addr)
		}

		cli, err := imapclient.DialStartTLS(addr, opts)
		if err != nil {
			return nil, stateClosed, newError(KindNetwork, "dial starttls", err)
		}
		return cli, stateEncryptionUpgraded, nil

	case model.TransportPlain:
		conn, err := n.dialTCP(ctx, addr)
		if err != nil {
			return nil, stateClosed, newError(KindNetwork, "dial", err)
		}

		cli := imapclient.New(conn, opts)
		if err := cli.WaitGreeting(); err != nil {
			cli.Close()
			return nil, stateClosed, newError(KindProtocol, "greeting", err)
		}
		return cli, stateTransportOpen, nil

	default:
		return nil, stateClosed, errorf(KindConfig, "dial", "unknown transport mode %q", account.Transport)
	}
}

// precheckCapabilities reads the server's capability advertisement over a
// short-lived cleartext connection. The library offers no way to upgrade
// an already-greeted client, so the pre-upgrade check uses its own
// connection and the actual session redials.
func (n *Negotiator) precheckCapabilities(ctx context.Context, addr string, opts *imapclient.Options) (imap.CapSet, error) {
	conn, err := n.dialTCP(ctx, addr)
	if err != nil {
		return nil, newError(KindNetwork, "dial", err)
	}

	cli := imapclient.New(conn, opts)
	defer cli.Close()

	if err := cli.WaitGreeting(); err != nil {
		return nil, newError(KindProtocol, "greeting", err)
	}

	caps, err := cli.Capability().Wait()
	if err != nil {
		return nil, newError(KindProtocol, "capability", err)
	}
	return caps, nil
}

// dialTCP opens the raw transport with the negotiator's timeout. The
// returned connection also applies the timeout as an I/O deadline on
// every subsequent read and write.
func (n *Negotiator) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: n.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &deadlineConn{Conn: conn, timeout: n.timeout}, nil
}

// clientOptions builds the TLS configuration for the account. Hostname
// verification is always on; a CA bundle only adds trust anchors.
func (n *Negotiator) clientOptions(account model.Account) (*imapclient.Options, error) {
	tlsConfig := &tls.Config{ServerName: account.Host}

	if account.CABundle != "" {
		pem, err := os.ReadFile(account.CABundle)
		if err != nil {
			return nil, errorf(KindConfig, "tls", "reading CA bundle %s: %v", account.CABundle, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errorf(KindConfig, "tls", "CA bundle %s contains no certificates", account.CABundle)
		}
		tlsConfig.RootCAs = pool
	}

	return &imapclient.Options{TLSConfig: tlsConfig}, nil
}

// authClient is the slice of the IMAP client the authentication strategy
// needs; tests substitute a recording fake.
type authClient interface {
	Login(username, password string) error
	AuthenticatePlain(authzID, username, password string) error
}

type imapAuthClient struct {
	cli *imapclient.Client
}

func (a imapAuthClient) Login(username, password string) error {
	return a.cli.Login(username, password).Wait()
}

func (a imapAuthClient) AuthenticatePlain(authzID, username, password string) error {
	return a.cli.Authenticate(sasl.NewPlainClient(authzID, username, password))
}

// authenticate picks an authentication mechanism from the advertised
// capabilities. LOGIN is preferred when the server permits it; otherwise
// SASL PLAIN is attempted with an ordered list of authorization-identity
// variants (empty authzid first, then authzid equal to the username).
// Exhausting every variant is reported as a single authentication
// failure; a server offering neither mechanism is a compatibility
// problem, not a credentials one.
func authenticate(c authClient, caps imap.CapSet, username, password string) error {
	if !caps.Has(capLoginDisabled) {
		if err := c.Login(username, password); err != nil {
			return newError(KindAuth, "login", err)
		}
		return nil
	}

	if !caps.Has(capAuthPlain) {
		return errorf(KindConfig, "auth",
			"server disables LOGIN and offers no supported SASL mechanism")
	}

	var attempts []string
	for _, authzID := range []string{"", username} {
		err := c.AuthenticatePlain(authzID, username, password)
		if err == nil {
			return nil
		}
		attempts = append(attempts, fmt.Sprintf("authzid %q: %v", authzID, err))
	}

	return errorf(KindAuth, "auth plain",
		"all variants failed: %s", strings.Join(attempts, "; "))
}

// deadlineConn pushes the read/write deadline forward before every I/O
// operation so a stalled server cannot hang a sync cycle indefinitely.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
