package mail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/model"
)

// recordingAuthClient records every authentication attempt in order and
// answers from scripted results.
type recordingAuthClient struct {
	calls []string

	loginErr error
	plainErr map[string]error
}

func (r *recordingAuthClient) Login(username, password string) error {
	r.calls = append(r.calls, "login:"+username)
	return r.loginErr
}

func (r *recordingAuthClient) AuthenticatePlain(authzID, username, password string) error {
	r.calls = append(r.calls, fmt.Sprintf("plain:%q", authzID))
	return r.plainErr[authzID]
}

func TestAuthenticatePrefersLogin(t *testing.T) {
	c := &recordingAuthClient{}
	caps := imap.CapSet{capAuthPlain: {}}

	if err := authenticate(c, caps, "user", "pw"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if len(c.calls) != 1 || c.calls[0] != "login:user" {
		t.Fatalf("calls = %v, want a single LOGIN", c.calls)
	}
}

func TestAuthenticateLoginFailureIsAuthKind(t *testing.T) {
	c := &recordingAuthClient{loginErr: errors.New("NO credentials rejected")}

	err := authenticate(c, imap.CapSet{}, "user", "pw")
	if !IsKind(err, KindAuth) {
		t.Fatalf("kind = %v, want KindAuth", KindOf(err))
	}
}

func TestAuthenticatePlainVariantOrder(t *testing.T) {
	// Empty authzid is rejected, username-as-authzid succeeds. The
	// variants must be tried in exactly that order.
	c := &recordingAuthClient{
		plainErr: map[string]error{"": errors.New("NO")},
	}
	caps := imap.CapSet{capLoginDisabled: {}, capAuthPlain: {}}

	if err := authenticate(c, caps, "user", "pw"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	want := []string{`plain:""`, `plain:"user"`}
	if len(c.calls) != 2 || c.calls[0] != want[0] || c.calls[1] != want[1] {
		t.Fatalf("calls = %v, want %v", c.calls, want)
	}
}

func TestAuthenticatePlainFirstVariantShortCircuits(t *testing.T) {
	c := &recordingAuthClient{plainErr: map[string]error{}}
	caps := imap.CapSet{capLoginDisabled: {}, capAuthPlain: {}}

	if err := authenticate(c, caps, "user", "pw"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if len(c.calls) != 1 {
		t.Fatalf("calls = %v, want only the first variant", c.calls)
	}
}

func TestAuthenticateExhaustionIsSingleAuthError(t *testing.T) {
	c := &recordingAuthClient{
		plainErr: map[string]error{
			"":     errors.New("NO"),
			"user": errors.New("NO"),
		},
	}
	caps := imap.CapSet{capLoginDisabled: {}, capAuthPlain: {}}

	err := authenticate(c, caps, "user", "pw")
	if !IsKind(err, KindAuth) {
		t.Fatalf("kind = %v, want KindAuth", KindOf(err))
	}
	if len(c.calls) != 2 {
		t.Fatalf("calls = %v, want both variants attempted", c.calls)
	}
}

// cleartextServer is a minimal scripted IMAP server for exercising the
// pre-upgrade negotiation. It records every command it receives.
type cleartextServer struct {
	ln   net.Listener
	caps string

	mu   sync.Mutex
	cmds []string
}

func newCleartextServer(t *testing.T, caps string) *cleartextServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &cleartextServer{ln: ln, caps: caps}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()

	return s
}

func (s *cleartextServer) serve(conn net.Conn) {
	defer conn.Close()

	fmt.Fprintf(conn, "* OK ready\r\n")

	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			return
		}
		tag, cmd := fields[0], strings.ToUpper(fields[1])

		s.mu.Lock()
		s.cmds = append(s.cmds, cmd)
		s.mu.Unlock()

		switch cmd {
		case "CAPABILITY":
			fmt.Fprintf(conn, "* CAPABILITY %s\r\n%s OK CAPABILITY completed\r\n", s.caps, tag)
		case "LOGOUT":
			fmt.Fprintf(conn, "* BYE\r\n%s OK LOGOUT completed\r\n", tag)
			return
		default:
			fmt.Fprintf(conn, "%s BAD Unknown command\r\n", tag)
		}
	}
}

func (s *cleartextServer) received(cmd string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

func (s *cleartextServer) account() model.Account {
	addr := s.ln.Addr().(*net.TCPAddr)
	return model.Account{
		Name:      "starttls-account",
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Username:  "user",
		Transport: model.TransportSTARTTLS,
	}
}

func TestDialStartTLSNotOfferedIsConfigError(t *testing.T) {
	srv := newCleartextServer(t, "IMAP4rev1 AUTH=PLAIN")

	n := NewNegotiator(5*time.Second, zap.NewNop())
	_, err := n.Dial(context.Background(), srv.account(), "pw")
	if err == nil {
		t.Fatal("dial succeeded against a server without STARTTLS")
	}
	if !IsKind(err, KindConfig) {
		t.Fatalf("kind = %v (%v), want KindConfig", KindOf(err), err)
	}

	// The upgrade command must never be issued blind.
	if srv.received("STARTTLS") {
		t.Fatal("STARTTLS sent to a server that does not advertise it")
	}
	if !srv.received("CAPABILITY") {
		t.Fatal("capabilities were not queried before the upgrade decision")
	}
}

func TestAuthenticateNoMechanismIsConfigError(t *testing.T) {
	c := &recordingAuthClient{}
	caps := imap.CapSet{capLoginDisabled: {}}

	err := authenticate(c, caps, "user", "pw")
	if !IsKind(err, KindConfig) {
		t.Fatalf("kind = %v, want KindConfig", KindOf(err))
	}
	if len(c.calls) != 0 {
		t.Fatalf("calls = %v, want no attempts against an incompatible server", c.calls)
	}
}
