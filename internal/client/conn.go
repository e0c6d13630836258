package client

import (
	"net"
	"time"

	"pgping/pkg/pgwire"
)

// Conn is an authenticated, ready-for-query connection. It owns the
// transport that Connect handed over and exposes the session facts the
// server reported during startup. It deliberately implements nothing past
// connection establishment.
type Conn struct {
	conn       net.Conn
	writer     *pgwire.Writer
	parameters map[string]string
	backendKey pgwire.BackendKeyData
	txStatus   byte
	closed     bool
}

// ServerParameter returns the value of a parameter-status field the server
// sent during startup (server_version, client_encoding, ...), or "" when
// the server never reported it.
func (c *Conn) ServerParameter(name string) string {
	return c.parameters[name]
}

// ServerParameters returns a copy of all reported parameter-status fields.
func (c *Conn) ServerParameters() map[string]string {
	params := make(map[string]string, len(c.parameters))
	for k, v := range c.parameters {
		params[k] = v
	}
	return params
}

// BackendKey returns the process ID and secret key from BackendKeyData.
// Both are zero when the server skipped the message.
func (c *Conn) BackendKey() pgwire.BackendKeyData {
	return c.backendKey
}

// TxStatus returns the transaction status byte from ReadyForQuery,
// normally 'I' (idle) on a fresh connection.
func (c *Conn) TxStatus() byte {
	return c.txStatus
}

// NetConn exposes the underlying transport for callers that hand the
// established connection to other machinery.
func (c *Conn) NetConn() net.Conn {
	return c.conn
}

// Close sends a Terminate message on a best-effort basis and closes the
// transport. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := c.writer.WriteTerminate(); err == nil {
		c.writer.Flush()
	}
	return c.conn.Close()
}
