package model

import (
	"net"
	"strconv"
	"time"
)

// TransportMode describes how the connection to the mail server is secured.
type TransportMode string

const (
	// TransportPlain connects without encryption and never upgrades.
	TransportPlain TransportMode = "plain"

	// TransportTLS wraps the socket in TLS before any protocol bytes
	// are exchanged (implicit TLS, usually port 993).
	TransportTLS TransportMode = "tls"

	// TransportSTARTTLS connects in the clear and requires an in-band
	// upgrade to TLS. If the server does not offer the upgrade the
	// connection fails.
	TransportSTARTTLS TransportMode = "starttls"
)

// AccountType identifies the retrieval protocol for an account.
type AccountType string

const (
	AccountTypeIMAP AccountType = "imap"
	AccountTypePOP3 AccountType = "pop3"
)

// Account is one mailbox the engine archives from. Accounts are created
// and edited by the administrative console; the engine treats them as
// read-only except for the heartbeat/success/error status fields.
type Account struct {
	ID   int64       `db:"id"`
	Name string      `db:"name"`
	Type AccountType `db:"type"`

	Host     string `db:"host"`
	Port     int    `db:"port"`
	Username string `db:"username"`

	// PasswordEncrypted is the opaque encrypted secret as stored by the
	// console. It is decrypted immediately before use and the plaintext
	// is never persisted.
	PasswordEncrypted string `db:"password_encrypted"`

	Transport TransportMode `db:"transport"`

	// CABundle is an optional path to a PEM file with additional trust
	// anchors for TLS verification.
	CABundle string `db:"ca_bundle"`

	PollIntervalSec       int  `db:"poll_interval_sec"`
	DeleteAfterProcessing bool `db:"delete_after_processing"`
	Enabled               bool `db:"enabled"`

	LastHeartbeat *time.Time `db:"last_heartbeat"`
	LastSuccess   *time.Time `db:"last_success"`
	LastError     *string    `db:"last_error"`
}

// Addr returns the host:port dial address for the account.
func (a Account) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Interval returns the account's poll interval, falling back to the
// given default when the account does not configure one.
func (a Account) Interval(fallback time.Duration) time.Duration {
	if a.PollIntervalSec <= 0 {
		return fallback
	}
	return time.Duration(a.PollIntervalSec) * time.Second
}
