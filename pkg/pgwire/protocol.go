package pgwire

// Protocol version 3.0.
const ProtocolVersion int32 = 196608 // 3 << 16

// Magic request codes sent in place of a protocol version before the real
// startup message.
const (
	SSLRequestCode    int32 = 80877103
	GSSENCRequestCode int32 = 80877104
)

// Single-byte server replies to an SSLRequest probe.
const (
	SSLAccept byte = 'S'
	SSLRefuse byte = 'N'
)

// Frontend (client → server) message types.
const (
	MsgPasswordMessage byte = 'p' // also carries SASL responses
	MsgQuery           byte = 'Q'
	MsgTerminate       byte = 'X'
)

// Backend (server → client) message types.
const (
	MsgAuthentication     byte = 'R'
	MsgBackendKeyData     byte = 'K'
	MsgCommandComplete    byte = 'C'
	MsgDataRow            byte = 'D'
	MsgEmptyQueryResponse byte = 'I'
	MsgErrorResponse      byte = 'E'
	MsgNoticeResponse     byte = 'N'
	MsgParameterStatus    byte = 'S'
	MsgReadyForQuery      byte = 'Z'
	MsgRowDescription     byte = 'T'
)

// Authentication sub-types (carried inside 'R' messages).
const (
	AuthOk                int32 = 0
	AuthKerberosV5        int32 = 2
	AuthCleartextPassword int32 = 3
	AuthMD5Password       int32 = 5
	AuthGSS               int32 = 7
	AuthSSPI              int32 = 9
	AuthSASL              int32 = 10
	AuthSASLContinue      int32 = 11
	AuthSASLFinal         int32 = 12
)

// Transaction status indicators for ReadyForQuery.
const (
	TxIdle   byte = 'I'
	TxInTx   byte = 'T'
	TxFailed byte = 'E'
)

// ErrorResponse / NoticeResponse field codes we care about.
const (
	FieldSeverity byte = 'S'
	FieldCode     byte = 'C'
	FieldMessage  byte = 'M'
)

// MaxHandshakeMessageLen bounds the length field of any message accepted
// during the handshake. Nothing a server legitimately sends before
// ReadyForQuery comes close; anything larger is a framing error.
const MaxHandshakeMessageLen = 1 << 20

// BackendKeyData carries the process ID and secret key needed for query
// cancellation, sent by the server after authentication.
type BackendKeyData struct {
	ProcessID int32
	SecretKey int32
}

// ErrorFields is the parsed form of an ErrorResponse or NoticeResponse.
type ErrorFields struct {
	Severity string
	Code     string
	Message  string
}

// StartupMessage is the initial untyped message sent by a client after the
// TCP connection is established (and after an optional SSL negotiation).
type StartupMessage struct {
	ProtocolVersion int32
	Parameters      map[string]string
}

