package pgwire

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
)

// Writer writes frontend PostgreSQL wire protocol messages to a connection.
type Writer struct {
	w        *bufio.Writer
	buf      []byte
	lengthAt int // offset of the int32 length field in buf
}

// NewWriter wraps an io.Writer for writing PG protocol messages.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:   bufio.NewWriter(w),
		buf: make([]byte, 0, 512),
	}
}

// Flush flushes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// WriteSSLRequest sends the SSL negotiation probe. The server answers with
// a single byte ('S' or 'N') instead of a regular message.
func (w *Writer) WriteSSLRequest() error {
	w.beginUntyped()
	w.writeInt32(SSLRequestCode)
	return w.finishMessage()
}

// WriteStartup sends the startup message: protocol version followed by
// key/value parameter pairs and a terminating null byte. Keys are written
// in sorted order so the frame is deterministic.
func (w *Writer) WriteStartup(params map[string]string) error {
	w.beginUntyped()
	w.writeInt32(ProtocolVersion)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.writeCString(k)
		w.writeCString(params[k])
	}
	w.buf = append(w.buf, 0) // parameter list terminator
	return w.finishMessage()
}

// WritePassword sends a PasswordMessage carrying a cleartext password or a
// precomputed md5 hash.
func (w *Writer) WritePassword(password string) error {
	w.beginMessage(MsgPasswordMessage)
	w.writeCString(password)
	return w.finishMessage()
}

// WriteSASLInitialResponse sends the first SASL message: mechanism name
// plus the initial client response.
func (w *Writer) WriteSASLInitialResponse(mechanism string, data []byte) error {
	w.beginMessage(MsgPasswordMessage)
	w.writeCString(mechanism)
	w.writeInt32(int32(len(data)))
	w.buf = append(w.buf, data...)
	return w.finishMessage()
}

// WriteSASLResponse sends a continuation message in a SASL exchange. The
// payload is raw, without a length prefix or terminator.
func (w *Writer) WriteSASLResponse(data []byte) error {
	w.beginMessage(MsgPasswordMessage)
	w.buf = append(w.buf, data...)
	return w.finishMessage()
}

// WriteTerminate tells the server the client is disconnecting.
func (w *Writer) WriteTerminate() error {
	w.beginMessage(MsgTerminate)
	return w.finishMessage()
}

// beginMessage starts building a new typed message.
func (w *Writer) beginMessage(msgType byte) {
	w.buf = w.buf[:0]
	w.buf = append(w.buf, msgType)
	w.buf = append(w.buf, 0, 0, 0, 0) // length placeholder
	w.lengthAt = 1
}

// beginUntyped starts building a message without a type byte (startup and
// SSL request only).
func (w *Writer) beginUntyped() {
	w.buf = w.buf[:0]
	w.buf = append(w.buf, 0, 0, 0, 0)
	w.lengthAt = 0
}

// finishMessage patches the length field and writes the message to the
// buffer. The length includes itself but never the type byte.
func (w *Writer) finishMessage() error {
	length := int32(len(w.buf) - w.lengthAt)
	binary.BigEndian.PutUint32(w.buf[w.lengthAt:w.lengthAt+4], uint32(length))
	_, err := w.w.Write(w.buf)
	return err
}

func (w *Writer) writeInt32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) writeCString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}
