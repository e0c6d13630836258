package pgwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The backend half of the codec. The library's connect path never uses it;
// it exists for code that has to play the server role, such as the
// in-process protocol server the test suite runs against.

// ReadStartup reads the initial untyped message from a client. It returns
// the parsed StartupMessage, or isSSL=true for an SSLRequest probe (msg is
// nil and the caller should answer with a single byte and call ReadStartup
// again). A GSSENC probe is reported as an error since nothing here
// negotiates it.
func (r *Reader) ReadStartup() (msg *StartupMessage, isSSL bool, err error) {
	var length int32
	if err := binary.Read(r.r, binary.BigEndian, &length); err != nil {
		return nil, false, fmt.Errorf("read startup length: %w", err)
	}
	if length < 8 || length > MaxHandshakeMessageLen {
		return nil, false, fmt.Errorf("invalid startup message length: %d", length)
	}

	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, false, fmt.Errorf("read startup payload: %w", err)
	}

	version := int32(binary.BigEndian.Uint32(payload[:4]))
	switch version {
	case SSLRequestCode:
		return nil, true, nil
	case GSSENCRequestCode:
		return nil, false, fmt.Errorf("GSSAPI encryption not supported")
	case ProtocolVersion:
	default:
		return nil, false, fmt.Errorf("unsupported protocol version: %d.%d",
			version>>16, version&0xFFFF)
	}

	startup := &StartupMessage{
		ProtocolVersion: version,
		Parameters:      make(map[string]string),
	}
	params := payload[4:]
	for len(params) > 1 {
		key, rest := readCString(params)
		if len(rest) == 0 {
			break
		}
		value, rest := readCString(rest)
		startup.Parameters[key] = value
		params = rest
	}
	return startup, false, nil
}

func (w *Writer) WriteSSLReply(b byte) error {
	_, err := w.w.Write([]byte{b})
	return err
}

func (w *Writer) WriteAuthRequest(authType int32, data []byte) error {
	w.beginMessage(MsgAuthentication)
	w.writeInt32(authType)
	w.buf = append(w.buf, data...)
	return w.finishMessage()
}

func (w *Writer) WriteParameterStatus(name, value string) error {
	w.beginMessage(MsgParameterStatus)
	w.writeCString(name)
	w.writeCString(value)
	return w.finishMessage()
}

func (w *Writer) WriteBackendKeyData(pid, secret int32) error {
	w.beginMessage(MsgBackendKeyData)
	w.writeInt32(pid)
	w.writeInt32(secret)
	return w.finishMessage()
}

func (w *Writer) WriteReadyForQuery(status byte) error {
	w.beginMessage(MsgReadyForQuery)
	w.buf = append(w.buf, status)
	return w.finishMessage()
}

func (w *Writer) WriteErrorResponse(severity, code, message string) error {
	return w.writeFieldsMessage(MsgErrorResponse, severity, code, message)
}

func (w *Writer) WriteNoticeResponse(severity, code, message string) error {
	return w.writeFieldsMessage(MsgNoticeResponse, severity, code, message)
}

func (w *Writer) writeFieldsMessage(msgType byte, severity, code, message string) error {
	w.beginMessage(msgType)
	w.buf = append(w.buf, FieldSeverity)
	w.writeCString(severity)
	w.buf = append(w.buf, FieldCode)
	w.writeCString(code)
	w.buf = append(w.buf, FieldMessage)
	w.writeCString(message)
	w.buf = append(w.buf, 0) // field terminator
	return w.finishMessage()
}

// WriteRowDescription sends single-column text-format metadata. The test
// server only ever answers trivial queries, so one unnamed int4-ish text
// column is all it needs.
func (w *Writer) WriteRowDescription(column string) error {
	w.beginMessage(MsgRowDescription)
	w.writeInt16(1)
	w.writeCString(column)
	w.writeInt32(0)  // table OID
	w.writeInt16(0)  // column attribute number
	w.writeInt32(23) // int4 type OID
	w.writeInt16(4)  // type size
	w.writeInt32(-1) // type modifier
	w.writeInt16(0)  // text format
	return w.finishMessage()
}

func (w *Writer) WriteDataRow(value string) error {
	w.beginMessage(MsgDataRow)
	w.writeInt16(1)
	w.writeInt32(int32(len(value)))
	w.buf = append(w.buf, value...)
	return w.finishMessage()
}

func (w *Writer) WriteCommandComplete(tag string) error {
	w.beginMessage(MsgCommandComplete)
	w.writeCString(tag)
	return w.finishMessage()
}

func (w *Writer) WriteEmptyQueryResponse() error {
	w.beginMessage(MsgEmptyQueryResponse)
	return w.finishMessage()
}

func (w *Writer) writeInt16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}
