package model

import "time"

// IncomingMessage is a message as handed to the store by the ingestor:
// raw bytes plus whatever metadata the best-effort header parse produced.
// Compression and the content signature are applied at write time.
type IncomingMessage struct {
	Source string
	Folder string
	UID    uint32

	// Header metadata is best-effort; parser failures leave the fields
	// blank and never prevent storage of the raw bytes.
	Subject    string
	Sender     string
	Recipients string
	Date       time.Time

	Raw []byte

	ScannedAt *time.Time
}

// Message is one archived email row. The raw content is immutable once
// stored; Signature is the SHA-256 of the uncompressed bytes, computed
// at write time so later integrity checks can detect tampering.
type Message struct {
	ID         string     `db:"id"`
	Source     string     `db:"source"`
	Folder     string     `db:"folder"`
	UID        uint32     `db:"uid"`
	Subject    string     `db:"subject"`
	Sender     string     `db:"sender"`
	Recipients string     `db:"recipients"`
	Date       *time.Time `db:"date"`
	RawEmail   []byte     `db:"raw_email"`
	Signature  string     `db:"signature"`
	ScannedAt  *time.Time `db:"scanned_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// QuarantinedMessage is a message diverted by virus classification. It
// lives in its own table so ordinary listing queries never have to
// filter it out.
type QuarantinedMessage struct {
	ID             string     `db:"id"`
	OriginalSource string     `db:"original_source"`
	OriginalFolder string     `db:"original_folder"`
	OriginalUID    uint32     `db:"original_uid"`
	Subject        string     `db:"subject"`
	Sender         string     `db:"sender"`
	Recipients     string     `db:"recipients"`
	Date           *time.Time `db:"date"`
	RawEmail       []byte     `db:"raw_email"`
	Signature      string     `db:"signature"`
	VirusName      string     `db:"virus_name"`
	ScannedAt      *time.Time `db:"scanned_at"`
	QuarantinedAt  time.Time  `db:"quarantined_at"`
}
