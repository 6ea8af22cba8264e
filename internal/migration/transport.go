package migration

import (
	"bytes"
	"fmt"
	"net"

	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// StagingDir names the on-disk directory a received package is staged
// under before being handed to the WASM host: "<app_index>_<request_index>_req".
func StagingDir(applicationIndex, requestIndex int) string {
	return fmt.Sprintf("%d_%d_req", applicationIndex, requestIndex)
}

// Listener accepts incoming migration transfers on a TCP address.
type Listener struct {
	ln  net.Listener
	log *telemetry.Logger
}

// Listen opens a TCP listener at addr (host:port).
func Listen(addr string, log *telemetry.Logger) (*Listener, error) {
	if log == nil {
		log = telemetry.Default("migration")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("migration: listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln, log: log}, nil
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new transfers.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept blocks for one incoming transfer, reads it to completion, and
// returns the verified package and manifest. The connection is always
// closed before returning.
func (l *Listener) Accept() (Package, Manifest, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return Package{}, Manifest{}, fmt.Errorf("migration: accept: %w", err)
	}
	defer conn.Close()

	return receive(conn)
}

// receive reads a full archive from conn until the peer closes its write
// side (io.EOF), then unpacks and verifies it.
func receive(conn net.Conn) (Package, Manifest, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(conn); err != nil {
		return Package{}, Manifest{}, fmt.Errorf("migration: receive: %w", err)
	}
	return ReadArchive(&buf, int64(buf.Len()))
}

// Send dials addr, writes pkg as a manifested zip archive, and closes
// its write side so the receiver's read-to-EOF completes. It reports an
// error if the dial, write, or close fails; a successful return means
// the bytes were handed to the OS send buffer, not that the peer
// acknowledged receipt — callers gate cleanup on the destination's own
// acknowledgement, not on Send returning nil.
func Send(addr string, requestIndex, sourceNodeIndex int, pkg Package) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("migration: dial %s: %w", addr, err)
	}
	defer conn.Close()

	manifest := BuildManifest(requestIndex, sourceNodeIndex, pkg)
	if err := WriteArchive(conn, manifest, pkg); err != nil {
		return fmt.Errorf("migration: send to %s: %w", addr, err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return fmt.Errorf("migration: close-write to %s: %w", addr, err)
		}
	}

	return nil
}
