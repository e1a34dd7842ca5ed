package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lukwies/libretro/internal/identkeys"
	"github.com/lukwies/libretro/internal/msghandler"
	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/protocol"
	"github.com/stretchr/testify/require"
)

// listenTLS starts a throwaway self-signed TLS listener for exercising
// the client handshake functions against a hand-written fake server.
func listenTLS(t *testing.T) (ln net.Listener, caPath string) {
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
	caPath = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caPath, certPEM, 0600))

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	ln, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	return ln, caPath
}

func dialTestServer(t *testing.T, ln net.Listener, caPath string) *netconn.Conn {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	conn, err := netconn.Dial(netconn.DialOptions{
		Host:       "127.0.0.1",
		Port:       addr.Port,
		CAFile:     caPath,
		ServerName: "127.0.0.1",
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	return conn
}

// readRawPacket and writeRawPacket let the fake server speak the wire
// protocol directly over the accepted net.Conn, without depending on
// netconn.Conn (which only dials, it does not wrap a server-side conn).
func readRawPacket(t *testing.T, c net.Conn) protocol.Packet {
	t.Helper()
	header := make([]byte, protocol.HeaderSize)
	_, err := io.ReadFull(c, header)
	require.NoError(t, err)
	h, err := protocol.UnpackHeader(header)
	require.NoError(t, err)
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		_, err = io.ReadFull(c, payload)
		require.NoError(t, err)
	}
	return protocol.Packet{Type: h.Type, Payload: payload}
}

func writeRawPacket(t *testing.T, c net.Conn, typ uint16, payload []byte) {
	t.Helper()
	_, err := c.Write(protocol.Pack(typ, payload))
	require.NoError(t, err)
}

func TestLoginSuccess(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	priv, err := identkeys.Generate()
	require.NoError(t, err)
	pub := priv.Public()

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		pkt := readRawPacket(t, raw)
		require.EqualValues(t, protocol.THello, pkt.Type)
		require.Len(t, pkt.Payload, 8+32+64)

		fields, err := protocol.UnpackFixed(pkt.Payload, 8, 32, 64)
		require.NoError(t, err)
		gotUserID := binary.BigEndian.Uint64(fields[0])
		require.EqualValues(t, 7, gotUserID)
		nonce, sig := fields[1], fields[2]
		require.True(t, pub.Verify(sig, nonce))

		writeRawPacket(t, raw, protocol.TSuccess, nil)
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	require.NoError(t, Login(conn, 7, priv))
}

func TestLoginServerRejects(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	priv, err := identkeys.Generate()
	require.NoError(t, err)

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		readRawPacket(t, raw)
		writeRawPacket(t, raw, protocol.TError, []byte("unknown user"))
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	err = Login(conn, 7, priv)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown user")
}

func TestRegisterFlow(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	priv, err := identkeys.Generate()
	require.NoError(t, err)
	regKey := make([]byte, RegKeySize)

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()

		pkt := readRawPacket(t, raw)
		require.EqualValues(t, protocol.TRegister, pkt.Type)
		require.Equal(t, regKey, pkt.Payload)

		resp := make([]byte, 8)
		resp[7] = 99
		writeRawPacket(t, raw, protocol.TSuccess, resp)

		pkt = readRawPacket(t, raw)
		require.EqualValues(t, protocol.TPubkey, pkt.Type)
		writeRawPacket(t, raw, protocol.TSuccess, nil)
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	userID, err := Register(conn, regKey, priv.Public())
	require.NoError(t, err)
	require.EqualValues(t, 99, userID)
}

func TestGetPubkey(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	priv, err := identkeys.Generate()
	require.NoError(t, err)
	pub := priv.Public()

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		pkt := readRawPacket(t, raw)
		require.EqualValues(t, protocol.TGetPubkey, pkt.Type)
		writeRawPacket(t, raw, protocol.TPubkey, pub.EncodePublicPEM())
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	got, err := GetPubkey(conn, 42)
	require.NoError(t, err)
	require.True(t, got.RSA.Equal(pub.RSA))
}

func TestGoodbye(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	received := make(chan uint16, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		pkt := readRawPacket(t, raw)
		received <- pkt.Type
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	require.NoError(t, Goodbye(conn))
	require.EqualValues(t, protocol.TGoodbye, <-received)
}

func TestDispatcherRunDeliversMessagesAndStopsOnGoodbye(t *testing.T) {
	ln, caPath := listenTLS(t)
	defer ln.Close()

	sender, err := identkeys.Generate()
	require.NoError(t, err)
	recipient, err := identkeys.Generate()
	require.NoError(t, err)

	env, err := msghandler.MakeMsg(1, 2, sender, recipient.Public(), []byte("hi there"))
	require.NoError(t, err)

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		writeRawPacket(t, raw, protocol.TChatMsg, env.Encode())
		writeRawPacket(t, raw, protocol.TGoodbye, nil)
	}()

	conn := dialTestServer(t, ln, caPath)
	defer conn.Close()

	var got *msghandler.Envelope
	d := &Dispatcher{
		OnMessage: func(e *msghandler.Envelope, isFile bool) {
			require.False(t, isFile)
			got = e
		},
	}

	require.NoError(t, d.Run(conn))
	require.NotNil(t, got)
	require.Equal(t, uint64(1), got.FromID)
}
