// Package netconn implements the blocking TLS/TCP client connection
// used for both the main session and file-transfer ports, grounded on
// a classic blocking-socket client (independent read/write
// locks, select-style readiness timeout) and the blocking-net.Conn
// deadline idiom in other_examples' companyzero/zkc session-kx code.
package netconn

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lukwies/libretro/internal/protocol"
	"github.com/lukwies/libretro/internal/retroerr"
)

// DefaultRecvTimeout is how long Recv waits for readiness before
// returning ErrTimeout.
const DefaultRecvTimeout = 30 * time.Second

// Conn wraps a TLS connection with independent read/write mutexes, so
// a blocking Recv in one goroutine never blocks a concurrent Send in
// another, mirroring net.py's separate rlock/wlock.
type Conn struct {
	tcp net.Conn
	tls *tls.Conn

	rmu sync.Mutex
	wmu sync.Mutex

	recvTimeout time.Duration
}

// DialOptions configures Dial.
type DialOptions struct {
	Host       string
	Port       int
	CAFile     string // PEM file pinning the expected server CA
	ServerName string // SNI hostname; defaults to Host
	Timeout    time.Duration
}

// Dial opens a CA-pinned TLS connection to opts.Host:opts.Port.
func Dial(opts DialOptions) (*Conn, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	tlsConf := &tls.Config{
		ServerName: opts.ServerName,
		MinVersion: tls.VersionTLS12,
	}
	if tlsConf.ServerName == "" {
		tlsConf.ServerName = opts.Host
	}
	if opts.CAFile != "" {
		caPEM, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("netconn: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("netconn: parse ca file")
		}
		tlsConf.RootCAs = pool
	}

	rawConn, err := net.DialTimeout("tcp", addr, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("netconn: dial: %w: %w", retroerr.ErrIO, err)
	}

	tlsConn := tls.Client(rawConn, tlsConf)
	if err := tlsConn.SetDeadline(time.Now().Add(opts.Timeout)); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("netconn: set deadline: %w", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("netconn: tls handshake: %w: %w", retroerr.ErrIO, err)
	}
	tlsConn.SetDeadline(time.Time{})

	return &Conn{tcp: rawConn, tls: tlsConn, recvTimeout: DefaultRecvTimeout}, nil
}

// SetRecvTimeout overrides the default readiness timeout used by Recv.
func (c *Conn) SetRecvTimeout(d time.Duration) {
	c.recvTimeout = d
}

// Close shuts down the underlying connection.
func (c *Conn) Close() error {
	return c.tls.Close()
}

// SendPacket frames and writes a single packet. Safe for concurrent
// use with Recv; concurrent SendPacket calls are serialized by the
// write mutex.
func (c *Conn) SendPacket(packetType uint16, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	buf := protocol.Pack(packetType, payload)
	if err := c.tls.SetWriteDeadline(time.Now().Add(c.recvTimeout)); err != nil {
		return fmt.Errorf("netconn: set write deadline: %w", err)
	}
	_, err := c.tls.Write(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("netconn: send: %w", retroerr.ErrTimeout)
		}
		return fmt.Errorf("netconn: send: %w: %w", retroerr.ErrIO, err)
	}
	return nil
}

// RecvPacket blocks until a full packet arrives, the readiness
// timeout elapses (retroerr.ErrTimeout), or the peer closes the
// connection (retroerr.ErrPeerClosed). A well-formed header with a
// short body is reported as retroerr.ErrTruncated.
func (c *Conn) RecvPacket() (protocol.Packet, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if err := c.tls.SetReadDeadline(time.Now().Add(c.recvTimeout)); err != nil {
		return protocol.Packet{}, fmt.Errorf("netconn: set read deadline: %w", err)
	}

	header := make([]byte, protocol.HeaderSize)
	if err := readFull(c.tls, header); err != nil {
		return protocol.Packet{}, err
	}

	h, err := protocol.UnpackHeader(header)
	if err != nil {
		return protocol.Packet{}, err
	}
	if err := protocol.CheckVersion(h); err != nil {
		return protocol.Packet{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if err := readFull(c.tls, payload); err != nil {
		if errors.Is(err, retroerr.ErrPeerClosed) {
			// The header already arrived, so the packet is cut short.
			return protocol.Packet{}, fmt.Errorf("netconn: recv: %w", retroerr.ErrTruncated)
		}
		return protocol.Packet{}, err
	}

	return protocol.Packet{Type: h.Type, Payload: payload}, nil
}

func readFull(conn net.Conn, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return fmt.Errorf("netconn: recv: %w", retroerr.ErrTimeout)
			}
			if m == 0 && n == 0 {
				return fmt.Errorf("netconn: recv: %w", retroerr.ErrPeerClosed)
			}
			return fmt.Errorf("netconn: recv: %w", retroerr.ErrTruncated)
		}
	}
	return nil
}

// LocalAddr and RemoteAddr expose the underlying socket addresses,
// useful for logging.
func (c *Conn) LocalAddr() net.Addr  { return c.tcp.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.tcp.RemoteAddr() }

// WriteRaw writes data with no packet framing, used by the
// file-transfer port where the byte stream itself carries no header.
func (c *Conn) WriteRaw(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.tls.SetWriteDeadline(time.Now().Add(c.recvTimeout)); err != nil {
		return fmt.Errorf("netconn: set write deadline: %w", err)
	}
	_, err := c.tls.Write(data)
	if err != nil {
		return fmt.Errorf("netconn: write raw: %w: %w", retroerr.ErrIO, err)
	}
	return nil
}

// ReadRaw reads exactly n unframed bytes, used by the file-transfer
// port.
func (c *Conn) ReadRaw(n int) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if err := c.tls.SetReadDeadline(time.Now().Add(c.recvTimeout)); err != nil {
		return nil, fmt.Errorf("netconn: set read deadline: %w", err)
	}
	buf := make([]byte, n)
	if err := readFull(c.tls, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
