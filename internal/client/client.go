// Package client implements the PostgreSQL startup/authentication
// handshake: it opens a transport, negotiates optional TLS, answers the
// server's authentication challenge and hands back a connection that has
// reached the ready-for-query state. Query execution is out of scope; the
// returned Conn is a thin handle over the authenticated transport.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"pgping/pkg/logger"
	"pgping/pkg/pgwire"
)

// TLSMode controls SSL negotiation, mirroring libpq's sslmode values that
// matter for connection establishment.
type TLSMode string

const (
	// TLSDisable skips the SSL probe entirely.
	TLSDisable TLSMode = "disable"
	// TLSPrefer probes for SSL and falls back to plaintext when refused.
	TLSPrefer TLSMode = "prefer"
	// TLSRequire probes for SSL and fails when refused.
	TLSRequire TLSMode = "require"
)

// ParseTLSMode validates a tls_mode string from configuration.
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(s) {
	case TLSDisable, TLSPrefer, TLSRequire:
		return TLSMode(s), nil
	default:
		return "", fmt.Errorf("invalid tls_mode %q (want disable, prefer or require)", s)
	}
}

// ConnectionParameters describes one connection target. It is treated as
// immutable: Connect never modifies it and concurrent attempts may share
// one value.
type ConnectionParameters struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	TLSMode  TLSMode

	// RuntimeParams are extra key/value pairs for the startup message
	// (application_name and friends). A missing application_name is
	// filled with "pgping".
	RuntimeParams map[string]string

	// TLSConfig overrides the TLS client configuration used after an
	// accepted SSL probe. When nil the connection does not verify the
	// server certificate, which is what libpq's prefer/require do.
	TLSConfig *tls.Config
}

// Addr returns the host:port dial target.
func (p ConnectionParameters) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// handshakeState tracks where a connection attempt is. States only ever
// advance; a failed attempt is terminal and a retry is a fresh attempt.
type handshakeState int

const (
	stateConnecting handshakeState = iota
	stateSSLNegotiating
	stateStartupSent
	stateAuthInProgress
	stateReady
	stateFailed
)

func (s handshakeState) String() string {
	switch s {
	case stateConnecting:
		return "Connecting"
	case stateSSLNegotiating:
		return "SSLNegotiating"
	case stateStartupSent:
		return "StartupSent"
	case stateAuthInProgress:
		return "AuthInProgress"
	case stateReady:
		return "Ready"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// maxSASLSteps bounds the SASL exchange so a desynchronized server cannot
// keep the client in the challenge loop forever.
const maxSASLSteps = 8

// defaultApplicationName is reported to the server unless the caller sets
// application_name in RuntimeParams.
const defaultApplicationName = "pgping"

// Connect performs the full startup handshake against params within
// timeout and returns a ready connection. On failure the transport is
// closed and the returned error is a *ConnectError classifying what went
// wrong. The attempt also respects an earlier deadline on ctx.
func Connect(ctx context.Context, params ConnectionParameters, timeout time.Duration) (*Conn, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := params.Addr()
	logger.Debug("connecting to %s (tls_mode=%s)", addr, params.TLSMode)

	dialer := &net.Dialer{Deadline: deadline}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyIOError(err, fmt.Sprintf("dial %s", addr))
	}

	h := &handshake{
		conn:     netConn,
		reader:   pgwire.NewReader(netConn),
		writer:   pgwire.NewWriter(netConn),
		params:   params,
		deadline: deadline,
		state:    stateConnecting,
	}

	conn, cerr := h.run()
	if cerr != nil {
		h.transition(stateFailed)
		netConn.Close()
		return nil, cerr
	}
	return conn, nil
}

// handshake owns one transport for the duration of one connection attempt.
type handshake struct {
	conn     net.Conn
	reader   *pgwire.Reader
	writer   *pgwire.Writer
	params   ConnectionParameters
	deadline time.Time
	state    handshakeState
	scram    *scramClient
	sasl     int // completed SASL steps
}

func (h *handshake) transition(next handshakeState) {
	logger.Debug("handshake %s: %s -> %s", h.params.Addr(), h.state, next)
	h.state = next
}

// run drives the state machine to Ready or the first terminal error.
func (h *handshake) run() (*Conn, *ConnectError) {
	if h.params.TLSMode != TLSDisable {
		if err := h.negotiateTLS(); err != nil {
			return nil, err
		}
	}

	if err := h.sendStartup(); err != nil {
		return nil, err
	}

	if err := h.authenticate(); err != nil {
		return nil, err
	}

	return h.awaitReady()
}

// negotiateTLS sends the SSL probe and, when accepted, upgrades the
// transport in place.
func (h *handshake) negotiateTLS() *ConnectError {
	h.transition(stateSSLNegotiating)

	if err := h.send(h.writer.WriteSSLRequest()); err != nil {
		return err
	}

	h.conn.SetReadDeadline(h.deadline)
	reply, err := h.reader.ReadSSLResponse()
	if err != nil {
		return classifyIOError(err, "read SSL probe response")
	}

	switch reply {
	case pgwire.SSLAccept:
		tlsConfig := h.params.TLSConfig
		if tlsConfig == nil {
			// libpq semantics for prefer/require: encrypt, don't verify.
			tlsConfig = &tls.Config{InsecureSkipVerify: true}
		}
		tlsConn := tls.Client(h.conn, tlsConfig)
		tlsConn.SetDeadline(h.deadline)
		if err := tlsConn.Handshake(); err != nil {
			if isTimeout(err) {
				return newError(KindTimeout, "TLS handshake", err)
			}
			return newError(KindTLS, "TLS handshake", err)
		}
		h.conn = tlsConn
		h.reader = pgwire.NewReader(tlsConn)
		h.writer = pgwire.NewWriter(tlsConn)
		logger.Debug("TLS established with %s", h.params.Addr())
		return nil
	case pgwire.SSLRefuse:
		if h.params.TLSMode == TLSRequire {
			return newError(KindTLSRequired, "server refused SSL", nil)
		}
		logger.Debug("server refused SSL, continuing in plaintext")
		return nil
	default:
		return newError(KindProtocolViolation,
			fmt.Sprintf("unexpected SSL probe response byte %q", reply), nil)
	}
}

// sendStartup writes the startup message with the connection parameters.
func (h *handshake) sendStartup() *ConnectError {
	startup := map[string]string{
		"user": h.params.User,
	}
	if h.params.Database != "" {
		startup["database"] = h.params.Database
	}
	for k, v := range h.params.RuntimeParams {
		startup[k] = v
	}
	if _, ok := startup["application_name"]; !ok {
		startup["application_name"] = defaultApplicationName
	}

	if err := h.send(h.writer.WriteStartup(startup)); err != nil {
		return err
	}
	h.transition(stateStartupSent)
	return nil
}

// authenticate reads authentication requests and answers them until the
// server reports AuthenticationOk or rejects the attempt.
func (h *handshake) authenticate() *ConnectError {
	h.transition(stateAuthInProgress)

	for {
		msgType, payload, err := h.readMessage()
		if err != nil {
			return err
		}

		switch msgType {
		case pgwire.MsgAuthentication:
			ok, aerr := h.handleAuthRequest(payload)
			if aerr != nil {
				return aerr
			}
			if ok {
				return nil
			}
		case pgwire.MsgErrorResponse:
			fields := pgwire.ParseErrorFields(payload)
			return rejectedError(fields.Code, fields.Message)
		case pgwire.MsgNoticeResponse:
			h.logNotice(payload)
		default:
			return newError(KindProtocolViolation,
				fmt.Sprintf("unexpected message %q before authentication completed", msgType), nil)
		}
	}
}

// handleAuthRequest dispatches one authentication sub-type. It returns
// true once the server reports AuthenticationOk.
func (h *handshake) handleAuthRequest(payload []byte) (bool, *ConnectError) {
	authType, data, err := pgwire.ParseAuthentication(payload)
	if err != nil {
		return false, newError(KindProtocolViolation, "malformed authentication message", err)
	}

	switch authType {
	case pgwire.AuthOk:
		logger.Debug("authentication ok for %s@%s", h.params.User, h.params.Addr())
		return true, nil

	case pgwire.AuthCleartextPassword:
		return false, h.send(h.writer.WritePassword(cleartextResponse(h.params.Password)))

	case pgwire.AuthMD5Password:
		response, merr := md5Response(h.params.User, h.params.Password, data)
		if merr != nil {
			return false, newError(KindProtocolViolation, "md5 challenge", merr)
		}
		return false, h.send(h.writer.WritePassword(response))

	case pgwire.AuthSASL:
		if h.scram != nil {
			return false, newError(KindProtocolViolation, "server restarted SASL negotiation", nil)
		}
		mechanism, serr := chooseSASLMechanism(data)
		if serr != nil {
			return false, newError(KindProtocolViolation, serr.Error(), nil)
		}
		sc, serr := newScramClient(h.params.Password)
		if serr != nil {
			return false, newError(KindNetwork, "SASL setup", serr)
		}
		h.scram = sc
		return false, h.saslStep(func() error {
			return h.writer.WriteSASLInitialResponse(mechanism, sc.clientFirstMessage())
		})

	case pgwire.AuthSASLContinue:
		if h.scram == nil {
			return false, newError(KindProtocolViolation, "SASL continue without SASL start", nil)
		}
		final, serr := h.scram.handleServerFirst(data)
		if serr != nil {
			return false, newError(KindProtocolViolation, "SASL challenge", serr)
		}
		return false, h.saslStep(func() error {
			return h.writer.WriteSASLResponse(final)
		})

	case pgwire.AuthSASLFinal:
		if h.scram == nil {
			return false, newError(KindProtocolViolation, "SASL final without SASL start", nil)
		}
		if serr := h.scram.verifyServerFinal(data); serr != nil {
			return false, newError(KindProtocolViolation, "SASL server verification", serr)
		}
		// AuthenticationOk follows in the next message.
		return false, nil

	default:
		return false, newError(KindProtocolViolation,
			fmt.Sprintf("unsupported authentication mechanism %d", authType), nil)
	}
}

// saslStep counts an exchange step before sending, enforcing the bound
// that keeps a confused server from looping the negotiation.
func (h *handshake) saslStep(write func() error) *ConnectError {
	h.sasl++
	if h.sasl > maxSASLSteps {
		return newError(KindProtocolViolation,
			fmt.Sprintf("SASL exchange exceeded %d steps", maxSASLSteps), nil)
	}
	return h.send(write())
}

// awaitReady drains post-authentication messages (parameter status,
// backend key data, notices) until ReadyForQuery and builds the handle.
func (h *handshake) awaitReady() (*Conn, *ConnectError) {
	conn := &Conn{
		conn:       h.conn,
		writer:     h.writer,
		parameters: make(map[string]string),
	}

	for {
		msgType, payload, err := h.readMessage()
		if err != nil {
			return nil, err
		}

		switch msgType {
		case pgwire.MsgParameterStatus:
			name, value, perr := pgwire.ParseParameterStatus(payload)
			if perr != nil {
				return nil, newError(KindProtocolViolation, "malformed parameter status", perr)
			}
			conn.parameters[name] = value

		case pgwire.MsgBackendKeyData:
			key, kerr := pgwire.ParseBackendKeyData(payload)
			if kerr != nil {
				return nil, newError(KindProtocolViolation, "malformed backend key data", kerr)
			}
			conn.backendKey = key

		case pgwire.MsgNoticeResponse:
			h.logNotice(payload)

		case pgwire.MsgReadyForQuery:
			status, rerr := pgwire.ParseReadyForQuery(payload)
			if rerr != nil {
				return nil, newError(KindProtocolViolation, "malformed ready for query", rerr)
			}
			conn.txStatus = status
			h.transition(stateReady)
			// The attempt deadline must not linger on the handed-over
			// transport.
			h.conn.SetDeadline(time.Time{})
			return conn, nil

		case pgwire.MsgErrorResponse:
			fields := pgwire.ParseErrorFields(payload)
			return nil, rejectedError(fields.Code, fields.Message)

		default:
			return nil, newError(KindProtocolViolation,
				fmt.Sprintf("unexpected message %q before ready for query", msgType), nil)
		}
	}
}

// send flushes one just-written message, classifying write failures.
func (h *handshake) send(writeErr error) *ConnectError {
	h.conn.SetWriteDeadline(h.deadline)
	if writeErr == nil {
		writeErr = h.writer.Flush()
	}
	if writeErr != nil {
		return classifyIOError(writeErr, "write")
	}
	return nil
}

// readMessage reads one backend message under the attempt deadline.
func (h *handshake) readMessage() (byte, []byte, *ConnectError) {
	h.conn.SetReadDeadline(h.deadline)
	msgType, payload, err := h.reader.ReadMessage()
	if err != nil {
		return 0, nil, classifyIOError(err, "read server message")
	}
	return msgType, payload, nil
}

func (h *handshake) logNotice(payload []byte) {
	fields := pgwire.ParseErrorFields(payload)
	logger.Debug("server notice from %s: %s", h.params.Addr(), logger.Dump(fields))
}

// classifyIOError maps an I/O failure to Timeout or Network.
func classifyIOError(err error, op string) *ConnectError {
	if isTimeout(err) {
		return newError(KindTimeout, op, err)
	}
	return newError(KindNetwork, op, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
