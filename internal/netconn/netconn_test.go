package netconn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// selfSignedCert generates a throwaway CA-style cert/key pair valid for
// 127.0.0.1, writes the cert as PEM to a temp file and returns the
// file path plus a tls.Certificate for the server side.
func selfSignedCert(t *testing.T) (certPath string, cert tls.Certificate) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	dir := t.TempDir()
	certPath = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0600))

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return certPath, tlsCert
}

// listenTLS starts a throwaway TLS listener and returns it plus the
// CA file path a client should trust.
func listenTLS(t *testing.T) (ln net.Listener, caPath string) {
	t.Helper()
	caPath, cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	return ln, caPath
}

func dialTestServer(t *testing.T, ln net.Listener, caPath string) *Conn {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	conn, err := Dial(DialOptions{
		Host:       "127.0.0.1",
		Port:       addr.Port,
		CAFile:     caPath,
		ServerName: "127.0.0.1",
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	return conn
}

func TestSendRecvPacketRoundTrip(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		buf := make([]byte, 8+5)
		if _, err := io.ReadFull(raw, buf); err != nil {
			return
		}
		raw.Write(buf) // echo back header+payload verbatim
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	require.NoError(t, conn.SendPacket(42, []byte("hello")))
	pkt, err := conn.RecvPacket()
	require.NoError(t, err)
	require.EqualValues(t, 42, pkt.Type)
	require.Equal(t, []byte("hello"), pkt.Payload)

	<-done
}

func TestRecvPacketPeerClosed(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		raw.(*tls.Conn).Handshake()
		raw.Close()
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	_, err := conn.RecvPacket()
	require.Error(t, err)
}

func TestRecvPacketTimeout(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		raw.(*tls.Conn).Handshake()
		close(accepted)
		// Hold the connection open without writing anything.
		time.Sleep(500 * time.Millisecond)
		raw.Close()
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()
	conn.SetRecvTimeout(50 * time.Millisecond)

	<-accepted
	_, err := conn.RecvPacket()
	require.Error(t, err)
}

func TestWriteRawReadRawRoundTrip(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	payload := []byte("raw file bytes, no framing")
	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		buf := make([]byte, len(payload))
		io.ReadFull(raw, buf)
		raw.Write(buf)
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	require.NoError(t, conn.WriteRaw(payload))
	got, err := conn.ReadRaw(len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)

	<-done
}
