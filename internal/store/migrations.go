package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	name                    TEXT NOT NULL UNIQUE,
	type                    TEXT NOT NULL DEFAULT 'imap' CHECK(type IN ('imap', 'pop3')),
	host                    TEXT NOT NULL,
	port                    INTEGER NOT NULL,
	username                TEXT NOT NULL DEFAULT '',
	password_encrypted      TEXT NOT NULL DEFAULT '',
	transport               TEXT NOT NULL DEFAULT 'tls' CHECK(transport IN ('plain', 'tls', 'starttls')),
	ca_bundle               TEXT NOT NULL DEFAULT '',
	poll_interval_sec       INTEGER NOT NULL DEFAULT 300,
	delete_after_processing INTEGER NOT NULL DEFAULT 0 CHECK(delete_after_processing IN (0, 1)),
	enabled                 INTEGER NOT NULL DEFAULT 1 CHECK(enabled IN (0, 1)),
	last_heartbeat          DATETIME,
	last_success            DATETIME,
	last_error              TEXT
);

CREATE TABLE IF NOT EXISTS sync_state (
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder     TEXT NOT NULL,
	last_uid   INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account_id, folder)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	folder     TEXT NOT NULL,
	uid        INTEGER NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL DEFAULT '',
	recipients TEXT NOT NULL DEFAULT '',
	date       DATETIME,
	raw_email  BLOB NOT NULL,
	signature  TEXT NOT NULL,
	scanned_at DATETIME,
	created_at DATETIME NOT NULL,
	UNIQUE(source, folder, uid)
);

CREATE TABLE IF NOT EXISTS quarantined_messages (
	id              TEXT PRIMARY KEY,
	original_source TEXT NOT NULL,
	original_folder TEXT NOT NULL,
	original_uid    INTEGER NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	recipients      TEXT NOT NULL DEFAULT '',
	date            DATETIME,
	raw_email       BLOB NOT NULL,
	signature       TEXT NOT NULL,
	virus_name      TEXT NOT NULL DEFAULT '',
	scanned_at      DATETIME,
	quarantined_at  DATETIME NOT NULL,
	UNIQUE(original_source, original_folder, original_uid)
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS logs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	level     TEXT NOT NULL,
	source    TEXT NOT NULL,
	message   TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_accounts_enabled ON accounts(enabled);
CREATE INDEX IF NOT EXISTS idx_messages_source ON messages(source);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_quarantined_source ON quarantined_messages(original_source);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_source_folder
	ON messages(source, folder, uid);

CREATE INDEX IF NOT EXISTS idx_logs_source
	ON logs(source, timestamp);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
