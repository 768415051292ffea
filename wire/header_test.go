package wire_test

import (
	"strings"
	"testing"

	"github.com/relaycore/edgehost/wire"
	"github.com/stretchr/testify/require"
)

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello edge")
	h, err := wire.NewHeader(payload, "node-a", "node-b")
	require.NoError(t, err)
	h.Type = wire.TypeData
	h.Priority = 7
	h.SequenceID = 42
	h.Flags = 0x1

	buf, err := h.Encode()
	require.NoError(t, err)
	require.Len(t, buf, wire.HeaderSize)

	decoded, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, h.Version, decoded.Version)
	require.Equal(t, h.Type, decoded.Type)
	require.Equal(t, h.Priority, decoded.Priority)
	require.Equal(t, h.SequenceID, decoded.SequenceID)
	require.Equal(t, h.PayloadSize, decoded.PayloadSize)
	require.Equal(t, h.Checksum, decoded.Checksum)
	require.Equal(t, "node-a", decoded.SenderID)
	require.Equal(t, "node-b", decoded.ReceiverID)
	require.Equal(t, h.Flags, decoded.Flags)

	require.NoError(t, decoded.Validate(0, payload))
}

func TestHeader_DecodeShortBuffer(t *testing.T) {
	_, err := wire.Decode(make([]byte, wire.HeaderSize-1))
	require.ErrorIs(t, err, wire.ErrShortHeader)
}

func TestHeader_DecodeBadMagic(t *testing.T) {
	h, err := wire.NewHeader([]byte("x"), "a", "b")
	require.NoError(t, err)
	buf, err := h.Encode()
	require.NoError(t, err)
	buf[0] ^= 0xFF

	_, err = wire.Decode(buf)
	require.ErrorIs(t, err, wire.ErrBadMagic)
}

func TestHeader_ValidateBadVersion(t *testing.T) {
	h, err := wire.NewHeader([]byte("x"), "a", "b")
	require.NoError(t, err)
	h.Version = 0

	err = h.Validate(0, []byte("x"))
	require.ErrorIs(t, err, wire.ErrBadVersion)
}

func TestHeader_ValidatePayloadTooLarge(t *testing.T) {
	payload := make([]byte, 100)
	h, err := wire.NewHeader(payload, "a", "b")
	require.NoError(t, err)

	err = h.Validate(10, payload)
	require.ErrorIs(t, err, wire.ErrPayloadTooLarge)
}

func TestHeader_ValidateChecksumMismatch(t *testing.T) {
	payload := []byte("original")
	h, err := wire.NewHeader(payload, "a", "b")
	require.NoError(t, err)

	tampered := []byte("tamper!d")
	err = h.Validate(0, tampered)
	require.ErrorIs(t, err, wire.ErrChecksum)
}

func TestHeader_NewHeaderRejectsOversizeID(t *testing.T) {
	tooLong := strings.Repeat("x", 33)
	_, err := wire.NewHeader([]byte("x"), tooLong, "b")
	require.ErrorIs(t, err, wire.ErrIDTooLong)
}

func TestHeader_SenderReceiverPaddingTrimmed(t *testing.T) {
	h, err := wire.NewHeader([]byte("x"), "s", "r")
	require.NoError(t, err)
	buf, err := h.Encode()
	require.NoError(t, err)

	decoded, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, "s", decoded.SenderID)
	require.Equal(t, "r", decoded.ReceiverID)
}
