// Package filetransfer implements the file-upload/download
// choreography: the file is zlib-compressed and AES-CBC-encrypted,
// pushed over a dedicated file-port connection with
// T_FILE_UPLOAD/T_FILE_DOWNLOAD framing, then announced on the main
// session as a T_FILEMSG envelope. Grounded on the reference
// file-transfer choreography.
package filetransfer

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/protocol"
	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/retroerr"
)

// FileIDSize is the size of the random file identifier used to
// correlate the file-port push with the T_FILEMSG announcement.
const FileIDSize = 16

// Upload compresses and encrypts plaintext, pushes it to the relay's
// file port over conn with fileID, and returns the AES key used so
// the caller can embed it (base64) in a msghandler.FileMsgPayload.
func Upload(conn *netconn.Conn, fileID []byte, plaintext []byte) (key []byte, err error) {
	if len(fileID) != FileIDSize {
		return nil, fmt.Errorf("filetransfer: fileid must be %d bytes", FileIDSize)
	}
	key, err = retrocrypto.Random(retrocrypto.AESKeySize)
	if err != nil {
		return nil, err
	}
	blob, err := retrocrypto.AESEncryptFromFile(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: encrypt: %w", err)
	}

	header := make([]byte, 0, FileIDSize+4)
	header = append(header, fileID...)
	header = appendU32(header, uint32(len(blob)))
	if err := conn.SendPacket(protocol.TFileUpload, header); err != nil {
		return nil, fmt.Errorf("filetransfer: send upload header: %w: %w", retroerr.ErrFileTransferFailed, err)
	}

	// The raw byte stream follows with no extra framing, over the same
	// connection.
	if err := sendRaw(conn, blob); err != nil {
		return nil, fmt.Errorf("filetransfer: send body: %w: %w", retroerr.ErrFileTransferFailed, err)
	}

	pkt, err := conn.RecvPacket()
	if err != nil {
		return nil, fmt.Errorf("filetransfer: recv ack: %w", err)
	}
	if pkt.Type != protocol.TSuccess {
		return nil, fmt.Errorf("filetransfer: upload rejected: %w", retroerr.ErrFileTransferFailed)
	}
	return key, nil
}

// Download requests fileID over the file port and decrypts the
// result with key (as carried in the T_FILEMSG envelope). The relay
// answers the request with a T_SUCCESS packet carrying the encrypted
// blob's size (u32 BE) before streaming the raw bytes, mirroring the
// header Upload sends ahead of its own raw stream.
func Download(conn *netconn.Conn, fileID []byte, key []byte) ([]byte, error) {
	if len(fileID) != FileIDSize {
		return nil, fmt.Errorf("filetransfer: fileid must be %d bytes", FileIDSize)
	}

	if err := conn.SendPacket(protocol.TFileDownload, fileID); err != nil {
		return nil, fmt.Errorf("filetransfer: send download request: %w: %w", retroerr.ErrFileTransferFailed, err)
	}

	pkt, err := conn.RecvPacket()
	if err != nil {
		return nil, fmt.Errorf("filetransfer: recv size header: %w", err)
	}
	if pkt.Type != protocol.TSuccess || len(pkt.Payload) != 4 {
		return nil, fmt.Errorf("filetransfer: download rejected: %w", retroerr.ErrFileTransferFailed)
	}
	size := binary.BigEndian.Uint32(pkt.Payload)

	blob, err := recvRaw(conn, int(size))
	if err != nil {
		return nil, fmt.Errorf("filetransfer: recv body: %w: %w", retroerr.ErrFileTransferFailed, err)
	}

	plaintext, err := retrocrypto.AESDecryptToFile(key, blob)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: decrypt: %w", err)
	}
	return plaintext, nil
}

// EncodeKey base64-encodes an AES key for embedding in a
// msghandler.FileMsgPayload.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// FormatSize renders a byte count as a short human string (B/KB/MB/GB),
// ported from the reference file-transfer choreography's
// filesize_to_string.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}
	return fmt.Sprintf("%.1f %s", float64(size)/float64(div), units[exp])
}

func appendU32(b []byte, v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return append(b, buf...)
}

// sendRaw/recvRaw exist because the file-port byte stream (the
// encrypted blob itself) is not wrapped in the 8-byte packet header —
// only the T_FILE_UPLOAD/T_FILE_DOWNLOAD control packets are. They go
// through netconn's unframed WriteRaw/ReadRaw instead of
// SendPacket/RecvPacket.
func sendRaw(conn *netconn.Conn, data []byte) error {
	return conn.WriteRaw(data)
}

func recvRaw(conn *netconn.Conn, n int) ([]byte, error) {
	return conn.ReadRaw(n)
}
