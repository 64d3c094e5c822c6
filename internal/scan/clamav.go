package scan

import (
	"bytes"
	"context"
	"time"

	clamd "github.com/dutchcoders/go-clamd"
	"go.uber.org/zap"
)

// ClamAV classifies messages by streaming them to a clamd daemon.
type ClamAV struct {
	client   *clamd.Clamd
	maxBytes int
	logger   *zap.Logger
}

// NewClamAV creates a classifier talking to clamd at address
// (e.g. "tcp://clamav:3310"). Content beyond maxBytes is not sent to the
// daemon; oversized messages are scanned on their leading bytes only.
func NewClamAV(address string, maxBytes int, logger *zap.Logger) *ClamAV {
	return &ClamAV{
		client:   clamd.NewClamd(address),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Scan streams raw bytes to clamd and returns the verdict. An
// unreachable daemon or a scan error yields a clean verdict: virus
// classification is a quality-of-service add-on, not a gate that can
// halt archiving.
func (s *ClamAV) Scan(ctx context.Context, raw []byte) Verdict {
	verdict := Verdict{ScannedAt: time.Now().UTC()}

	if s.maxBytes > 0 && len(raw) > s.maxBytes {
		raw = raw[:s.maxBytes]
	}

	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(bytes.NewReader(raw), abort)
	if err != nil {
		s.logger.Warn("clamav unreachable, treating message as clean", zap.Error(err))
		return verdict
	}

	for {
		select {
		case <-ctx.Done():
			return verdict
		case res, ok := <-results:
			if !ok {
				return verdict
			}
			switch res.Status {
			case clamd.RES_FOUND:
				verdict.Detected = true
				verdict.Name = res.Description
				return verdict
			case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
				s.logger.Warn("clamav scan error, treating message as clean",
					zap.String("detail", res.Description))
				return verdict
			}
		}
	}
}
