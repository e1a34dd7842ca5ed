// Package protocol implements the retro binary wire codec: the
// 8-byte packet header and the typed payload field layouts, grounded
// on the reference wire protocol.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/lukwies/libretro/internal/retroerr"
)

// Version is the only protocol version this client speaks.
const Version uint16 = 0x0001

// HeaderSize is the fixed 8-byte packet header: u16 version, u16 type,
// i32 payload length.
const HeaderSize = 8

// Packet types. T_GOODBYE and T_REGISTER do not collide here;
// T_REGISTER is assigned 5.
const (
	TSuccess = 1
	TError   = 2
	THello   = 3
	TGoodbye = 4
	TRegister = 5
	TPubkey   = 6
	TGetPubkey = 7

	TChatMsg = 10
	TFileMsg = 11

	TFriends       = 20
	TFriendOnline  = 21
	TFriendOffline = 22
	TFriendUnknown = 23

	TFileUpload   = 31
	TFileDownload = 32
)

// MaxPayloadLen bounds payload_length to guard against hostile/garbled
// headers claiming absurd sizes before any bytes have been read.
const MaxPayloadLen = 64 * 1024 * 1024

// Header is the decoded form of the 8-byte packet header.
type Header struct {
	Version   uint16
	Type      uint16
	PayloadLen int32
}

// PackHeader encodes h into its 8-byte wire representation.
func PackHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Type)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.PayloadLen))
	return buf
}

// UnpackHeader decodes the 8-byte wire header in buf.
func UnpackHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("protocol: header must be %d bytes: %w", HeaderSize, retroerr.ErrMalformedHeader)
	}
	h := Header{
		Version:   binary.BigEndian.Uint16(buf[0:2]),
		Type:      binary.BigEndian.Uint16(buf[2:4]),
		PayloadLen: int32(binary.BigEndian.Uint32(buf[4:8])),
	}
	if h.PayloadLen < 0 || h.PayloadLen > MaxPayloadLen {
		return Header{}, fmt.Errorf("protocol: payload length out of range: %w", retroerr.ErrMalformedHeader)
	}
	return h, nil
}

// Packet is a fully decoded wire packet: header plus raw payload bytes.
type Packet struct {
	Type    uint16
	Payload []byte
}

// Pack serializes a packet (header + payload) for transmission.
func Pack(packetType uint16, payload []byte) []byte {
	h := Header{Version: Version, Type: packetType, PayloadLen: int32(len(payload))}
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, PackHeader(h)...)
	out = append(out, payload...)
	return out
}

// CheckVersion validates that a decoded header carries the version this
// client speaks.
func CheckVersion(h Header) error {
	if h.Version != Version {
		return fmt.Errorf("protocol: peer speaks version 0x%04x, want 0x%04x: %w", h.Version, Version, retroerr.ErrProtocolVersionMismatch)
	}
	return nil
}

// --- Field-list unpacking helpers, mirroring protocol.py's
// unpack_packet(data_sizes=[...]): the caller supplies an ordered list
// of fixed field sizes, optionally ending with RestOfPayload for a
// trailing variable-length field, and the codec slices the payload
// accordingly. None of these payloads carry their own length prefixes;
// the shape of each packet type is fixed and known to the caller.

// RestOfPayload is used as the final entry of sizes passed to
// UnpackFixed to mean "whatever bytes remain".
const RestOfPayload = -1

// UnpackFixed slices payload into len(sizes) fields according to
// sizes, in order. Only the last size may be RestOfPayload.
func UnpackFixed(payload []byte, sizes ...int) ([][]byte, error) {
	fields := make([][]byte, 0, len(sizes))
	off := 0
	for i, sz := range sizes {
		if sz == RestOfPayload {
			if i != len(sizes)-1 {
				return nil, fmt.Errorf("protocol: RestOfPayload must be the last size")
			}
			fields = append(fields, payload[off:])
			return fields, nil
		}
		if off+sz > len(payload) {
			return nil, fmt.Errorf("protocol: truncated field: %w", retroerr.ErrTruncated)
		}
		fields = append(fields, payload[off:off+sz])
		off += sz
	}
	if off != len(payload) {
		return nil, fmt.Errorf("protocol: trailing bytes after fixed fields: %w", retroerr.ErrTruncated)
	}
	return fields, nil
}

// UnpackList splits payload into a list of fixed-size records with no
// length prefixes at all, e.g. T_FRIENDS' concatenated user IDs.
func UnpackList(payload []byte, itemSize int) ([][]byte, error) {
	if itemSize <= 0 || len(payload)%itemSize != 0 {
		return nil, fmt.Errorf("protocol: payload length %d not a multiple of %d: %w", len(payload), itemSize, retroerr.ErrTruncated)
	}
	n := len(payload) / itemSize
	items := make([][]byte, n)
	for i := 0; i < n; i++ {
		items[i] = payload[i*itemSize : (i+1)*itemSize]
	}
	return items, nil
}
