package protocol

import (
	"testing"

	"github.com/lukwies/libretro/internal/retroerr"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Type: TChatMsg, PayloadLen: 42}
	got, err := UnpackHeader(PackHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestUnpackHeaderRejectsWrongSize(t *testing.T) {
	_, err := UnpackHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, retroerr.ErrMalformedHeader)
}

func TestUnpackHeaderRejectsOversizePayload(t *testing.T) {
	h := PackHeader(Header{Version: Version, Type: TChatMsg, PayloadLen: MaxPayloadLen + 1})
	_, err := UnpackHeader(h)
	require.ErrorIs(t, err, retroerr.ErrMalformedHeader)
}

func TestCheckVersionRejectsMismatch(t *testing.T) {
	h := Header{Version: 0x0101, Type: THello, PayloadLen: 0}
	err := CheckVersion(h)
	require.ErrorIs(t, err, retroerr.ErrProtocolVersionMismatch)
}

func TestPackIncludesHeaderAndPayload(t *testing.T) {
	payload := []byte("hello")
	raw := Pack(TChatMsg, payload)
	require.Len(t, raw, HeaderSize+len(payload))

	h, err := UnpackHeader(raw[:HeaderSize])
	require.NoError(t, err)
	require.Equal(t, uint16(TChatMsg), h.Type)
	require.Equal(t, int32(len(payload)), h.PayloadLen)
	require.Equal(t, payload, raw[HeaderSize:])
}

func TestUnpackFixedSlicesInOrder(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := []byte("this is the rest of the payload")
	payload := append(append([]byte{}, a...), b...)

	fields, err := UnpackFixed(payload, 8, RestOfPayload)
	require.NoError(t, err)
	require.Equal(t, [][]byte{a, b}, fields)
}

func TestUnpackFixedRejectsTruncation(t *testing.T) {
	_, err := UnpackFixed([]byte{1, 2, 3}, 8)
	require.ErrorIs(t, err, retroerr.ErrTruncated)
}

func TestUnpackFixedRejectsTrailingBytes(t *testing.T) {
	_, err := UnpackFixed([]byte{1, 2, 3, 4}, 2)
	require.ErrorIs(t, err, retroerr.ErrTruncated)
}

func TestUnpackListSplitsFixedSizeRecords(t *testing.T) {
	payload := []byte{
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
	}
	items, err := UnpackList(payload, 8)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, payload[0:8], items[0])
	require.Equal(t, payload[8:16], items[1])
}

func TestUnpackListRejectsPartialRecord(t *testing.T) {
	_, err := UnpackList([]byte{1, 2, 3}, 8)
	require.ErrorIs(t, err, retroerr.ErrTruncated)
}

func TestPacketTypesDoNotCollide(t *testing.T) {
	require.NotEqual(t, TGoodbye, TRegister)
}
