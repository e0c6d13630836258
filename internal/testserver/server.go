// Package testserver runs an in-process PostgreSQL-protocol server that
// implements just enough of the backend side of the handshake to exercise
// a client: configurable authentication (trust, cleartext, md5,
// SCRAM-SHA-256), optional TLS, and a handful of scripted misbehaviors.
// After authentication it answers trivial simple-protocol queries so real
// drivers can complete a smoke test against it.
package testserver

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"pgping/pkg/pgwire"
)

// AuthMode selects the authentication mechanism the server demands.
type AuthMode string

const (
	AuthTrust     AuthMode = "trust"
	AuthCleartext AuthMode = "cleartext"
	AuthMD5       AuthMode = "md5"
	AuthSCRAM     AuthMode = "scram-sha-256"
)

// Behavior scripts a deliberate misbehavior for failure-path tests.
type Behavior int

const (
	// BehaveNormal follows the protocol.
	BehaveNormal Behavior = iota
	// BehaveSilent accepts the TCP connection and never sends a byte.
	BehaveSilent
	// BehaveGarbageSSL answers the SSL probe with a byte that is neither
	// 'S' nor 'N'.
	BehaveGarbageSSL
	// BehaveBogusMessage sends a message no server should send before
	// authentication completes.
	BehaveBogusMessage
	// BehaveNoticeFirst sends a NoticeResponse between the startup
	// message and the authentication request.
	BehaveNoticeFirst
)

// Options configures a test server. Zero values mean: trust auth, any
// user/database accepted, SSL probes refused.
type Options struct {
	AuthMode AuthMode
	User     string // when set, startup user must match
	Database string // when set, startup database must match
	Password string // expected credential for non-trust modes

	// TLS, when set, makes the server accept SSL probes and upgrade.
	// When nil, probes are answered with 'N'.
	TLS *tls.Config

	Behavior Behavior
}

type Server struct {
	listener net.Listener
	opts     Options
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

func Start(opts Options) (*Server, error) {
	if opts.AuthMode == "" {
		opts.AuthMode = AuthTrust
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("testserver listen: %w", err)
	}

	s := &Server{listener: listener, opts: opts}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.Port
}

func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if s.opts.Behavior == BehaveSilent {
		io.Copy(io.Discard, conn)
		return
	}

	reader := pgwire.NewReader(conn)
	writer := pgwire.NewWriter(conn)

	var startup *pgwire.StartupMessage
	for {
		msg, isSSL, err := reader.ReadStartup()
		if err != nil {
			return
		}
		if !isSSL {
			startup = msg
			break
		}

		if s.opts.Behavior == BehaveGarbageSSL {
			writer.WriteSSLReply('X')
			writer.Flush()
			return
		}
		if s.opts.TLS == nil {
			if err := writer.WriteSSLReply(pgwire.SSLRefuse); err != nil {
				return
			}
			writer.Flush()
			continue
		}

		if err := writer.WriteSSLReply(pgwire.SSLAccept); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
		tlsConn := tls.Server(conn, s.opts.TLS)
		if err := tlsConn.Handshake(); err != nil {
			return
		}
		conn = tlsConn
		reader = pgwire.NewReader(conn)
		writer = pgwire.NewWriter(conn)
	}

	if s.opts.Behavior == BehaveNoticeFirst {
		writer.WriteNoticeResponse("NOTICE", "00000", "test server greeting")
		writer.Flush()
	}

	if s.opts.Behavior == BehaveBogusMessage {
		writer.WriteCommandComplete("BOGUS")
		writer.Flush()
		return
	}

	user := startup.Parameters["user"]
	if s.opts.User != "" && user != s.opts.User {
		s.sendFatal(writer, "28000", fmt.Sprintf("role %q does not exist", user))
		return
	}
	if s.opts.Database != "" && startup.Parameters["database"] != s.opts.Database {
		s.sendFatal(writer, "3D000",
			fmt.Sprintf("database %q does not exist", startup.Parameters["database"]))
		return
	}

	if !s.authenticate(reader, writer, user) {
		return
	}

	serverParams := [][2]string{
		{"server_version", "16.0 (pgping testserver)"},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
	}
	for _, p := range serverParams {
		if err := writer.WriteParameterStatus(p[0], p[1]); err != nil {
			return
		}
	}
	if err := writer.WriteBackendKeyData(4242, 171717); err != nil {
		return
	}
	if err := writer.WriteReadyForQuery(pgwire.TxIdle); err != nil {
		return
	}
	if err := writer.Flush(); err != nil {
		return
	}

	s.queryLoop(conn, reader, writer)
}

func (s *Server) authenticate(reader *pgwire.Reader, writer *pgwire.Writer, user string) bool {
	switch s.opts.AuthMode {
	case AuthTrust:
		return s.finishAuth(writer)

	case AuthCleartext:
		if err := s.challenge(writer, pgwire.AuthCleartextPassword, nil); err != nil {
			return false
		}
		password, ok := s.readPassword(reader)
		if !ok {
			return false
		}
		if password != s.opts.Password {
			s.sendFatal(writer, "28P01",
				fmt.Sprintf("password authentication failed for user %q", user))
			return false
		}
		return s.finishAuth(writer)

	case AuthMD5:
		salt := []byte{0x13, 0x37, 0xbe, 0xef}
		if err := s.challenge(writer, pgwire.AuthMD5Password, salt); err != nil {
			return false
		}
		response, ok := s.readPassword(reader)
		if !ok {
			return false
		}
		if response != md5Digest(user, s.opts.Password, salt) {
			s.sendFatal(writer, "28P01",
				fmt.Sprintf("password authentication failed for user %q", user))
			return false
		}
		return s.finishAuth(writer)

	case AuthSCRAM:
		return s.authenticateSCRAM(reader, writer, user)

	default:
		s.sendFatal(writer, "28000", fmt.Sprintf("unsupported auth mode %q", s.opts.AuthMode))
		return false
	}
}

func (s *Server) challenge(writer *pgwire.Writer, authType int32, data []byte) error {
	if err := writer.WriteAuthRequest(authType, data); err != nil {
		return err
	}
	return writer.Flush()
}

func (s *Server) finishAuth(writer *pgwire.Writer) bool {
	if err := writer.WriteAuthRequest(pgwire.AuthOk, nil); err != nil {
		return false
	}
	return true
}

func (s *Server) readPassword(reader *pgwire.Reader) (string, bool) {
	msgType, payload, err := reader.ReadMessage()
	if err != nil || msgType != pgwire.MsgPasswordMessage {
		return "", false
	}
	if len(payload) > 0 && payload[len(payload)-1] == 0 {
		payload = payload[:len(payload)-1]
	}
	return string(payload), true
}

func (s *Server) sendFatal(writer *pgwire.Writer, code, message string) {
	writer.WriteErrorResponse("FATAL", code, message)
	writer.Flush()
}

// queryLoop answers simple-protocol queries: empty/comment-only queries
// get an EmptyQueryResponse, "SELECT <n>" echoes one row, anything else a
// syntax error. Enough for driver pings and SELECT 1 smoke tests.
func (s *Server) queryLoop(conn net.Conn, reader *pgwire.Reader, writer *pgwire.Writer) {
	for {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
		msgType, payload, err := reader.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case pgwire.MsgQuery:
			query := payload
			if len(query) > 0 && query[len(query)-1] == 0 {
				query = query[:len(query)-1]
			}
			if err := s.handleQuery(writer, string(query)); err != nil {
				return
			}
		case pgwire.MsgTerminate:
			return
		default:
			writer.WriteErrorResponse("ERROR", "0A000",
				fmt.Sprintf("message %q not supported by test server", msgType))
			writer.WriteReadyForQuery(pgwire.TxIdle)
			if err := writer.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleQuery(writer *pgwire.Writer, query string) error {
	stripped := stripComments(query)

	switch {
	case stripped == "":
		if err := writer.WriteEmptyQueryResponse(); err != nil {
			return err
		}
	case strings.EqualFold(stripped, "select 1"):
		if err := writer.WriteRowDescription("?column?"); err != nil {
			return err
		}
		if err := writer.WriteDataRow("1"); err != nil {
			return err
		}
		if err := writer.WriteCommandComplete("SELECT 1"); err != nil {
			return err
		}
	default:
		if err := writer.WriteErrorResponse("ERROR", "42601",
			fmt.Sprintf("test server cannot execute %q", stripped)); err != nil {
			return err
		}
	}

	if err := writer.WriteReadyForQuery(pgwire.TxIdle); err != nil {
		return err
	}
	return writer.Flush()
}

// stripComments drops "--" line comments and surrounding whitespace, so a
// driver ping like "-- ping" counts as an empty query.
func stripComments(query string) string {
	var kept []string
	for _, line := range strings.Split(query, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSuffix(strings.Join(kept, " "), ";")
}
