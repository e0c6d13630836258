package pgwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Reader reads backend PostgreSQL wire protocol messages from a connection.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps an io.Reader for reading PG protocol messages.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadSSLResponse reads the single-byte server reply to an SSLRequest.
// The reply is not a framed message, just 'S' or 'N'; validating it is the
// caller's job since an unexpected byte is a protocol error, not an I/O one.
func (r *Reader) ReadSSLResponse() (byte, error) {
	return r.r.ReadByte()
}

// ReadMessage reads a typed backend message (1-byte type + int32 length +
// payload). The length field is sanity-checked against
// MaxHandshakeMessageLen before the payload is allocated.
func (r *Reader) ReadMessage() (msgType byte, payload []byte, err error) {
	msgType, err = r.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	var length int32
	if err := binary.Read(r.r, binary.BigEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	if length < 4 {
		return 0, nil, fmt.Errorf("message length too short: %d", length)
	}
	if length > MaxHandshakeMessageLen {
		return 0, nil, fmt.Errorf("message length too large: %d", length)
	}

	payload = make([]byte, length-4)
	if length > 4 {
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}
	return msgType, payload, nil
}

// ParseAuthentication splits an 'R' message payload into the auth sub-type
// and the mechanism-specific data that follows it.
func ParseAuthentication(payload []byte) (authType int32, data []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("authentication message too short: %d bytes", len(payload))
	}
	return int32(binary.BigEndian.Uint32(payload[:4])), payload[4:], nil
}

// ParseErrorFields parses an ErrorResponse or NoticeResponse payload:
// repeated {field code byte, cstring value}, terminated by a null byte.
// Unknown field codes are skipped.
func ParseErrorFields(payload []byte) ErrorFields {
	var fields ErrorFields
	rest := payload
	for len(rest) > 0 && rest[0] != 0 {
		code := rest[0]
		value, remaining := readCString(rest[1:])
		switch code {
		case FieldSeverity:
			fields.Severity = value
		case FieldCode:
			fields.Code = value
		case FieldMessage:
			fields.Message = value
		}
		rest = remaining
	}
	return fields
}

// ParseParameterStatus parses an 'S' message payload into its name/value pair.
func ParseParameterStatus(payload []byte) (name, value string, err error) {
	name, rest := readCString(payload)
	if rest == nil {
		return "", "", fmt.Errorf("parameter status missing value for %q", name)
	}
	value, _ = readCString(rest)
	return name, value, nil
}

// ParseBackendKeyData parses a 'K' message payload.
func ParseBackendKeyData(payload []byte) (BackendKeyData, error) {
	if len(payload) != 8 {
		return BackendKeyData{}, fmt.Errorf("backend key data: expected 8 bytes, got %d", len(payload))
	}
	return BackendKeyData{
		ProcessID: int32(binary.BigEndian.Uint32(payload[:4])),
		SecretKey: int32(binary.BigEndian.Uint32(payload[4:8])),
	}, nil
}

// ParseReadyForQuery parses a 'Z' message payload into its transaction
// status byte.
func ParseReadyForQuery(payload []byte) (byte, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("ready for query: expected 1 byte, got %d", len(payload))
	}
	return payload[0], nil
}

// readCString reads a null-terminated string from b, returning the string
// and the remaining bytes after the null terminator. If no terminator is
// found the whole slice is returned with nil remainder.
func readCString(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}
