package tls13

import (
	"io"
	"net"
)

// Transport is the blocking byte-stream abstraction the record layer reads
// and writes through. spec.md §6 defines the endpoint in terms of
// read_exact/write_all over an arbitrary reliable stream rather than a
// push-based feed, the one deliberate HOW-level deviation from the
// teacher's Eat(bytes) model (see SPEC_FULL.md §0).
type Transport interface {
	ReadFull(buf []byte) error
	WriteAll(buf []byte) error
}

// netConnTransport adapts a net.Conn, the way every example server in the
// pack (hxzhao527-stls/test/stls, shu-yusa-go-tls) drives its handshake
// directly over one.
type netConnTransport struct {
	conn net.Conn
}

// NewTransport wraps a net.Conn (or anything else satisfying it, e.g. an
// in-memory net.Pipe half used by tests) as a Transport.
func NewTransport(conn net.Conn) Transport {
	return &netConnTransport{conn: conn}
}

func (t *netConnTransport) ReadFull(buf []byte) error {
	_, err := io.ReadFull(t.conn, buf)
	return err
}

func (t *netConnTransport) WriteAll(buf []byte) error {
	_, err := t.conn.Write(buf)
	return err
}
