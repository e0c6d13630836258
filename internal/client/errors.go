package client

import (
	"fmt"
)

// ErrorKind classifies a failed connection attempt. Every failure returned
// by Connect carries exactly one kind; none of them are retried internally.
type ErrorKind int

const (
	// KindNetwork covers transport-level failures: dial errors and any
	// read/write error after the socket is open.
	KindNetwork ErrorKind = iota
	// KindTLS covers TLS handshake and certificate failures.
	KindTLS
	// KindTLSRequired means the server refused encryption while tls_mode
	// was set to require.
	KindTLSRequired
	// KindProtocolViolation means the server sent a message the handshake
	// state machine cannot accept: wrong tag, malformed payload, or an
	// authentication mechanism the client does not speak.
	KindProtocolViolation
	// KindRejected is a server-issued startup or authentication error,
	// carrying the SQLSTATE code and message from the ErrorResponse.
	KindRejected
	// KindTimeout means the caller's deadline elapsed at a suspension
	// point (dial, TLS handshake, or a message read).
	KindTimeout
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTLS:
		return "tls"
	case KindTLSRequired:
		return "tls-required"
	case KindProtocolViolation:
		return "protocol-violation"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ConnectError is the typed failure of a connection attempt. Code and
// Message are populated for KindRejected from the server's ErrorResponse
// fields; Err holds the underlying cause where one exists.
type ConnectError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	switch {
	case e.Kind == KindRejected:
		return fmt.Sprintf("connect rejected by server: %s (SQLSTATE %s)", e.Message, e.Code)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("connect failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("connect failed (%s): %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("connect failed (%s): %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("connect failed (%s)", e.Kind)
	}
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, cause error) *ConnectError {
	return &ConnectError{Kind: kind, Message: message, Err: cause}
}

func rejectedError(code, message string) *ConnectError {
	return &ConnectError{Kind: KindRejected, Code: code, Message: message}
}
