// Package wire implements the fixed-layout message header consumed by
// the core runtime's hybrid-communication layer (spec.md §6). The
// binary serialization format for message bodies is out of scope
// (spec.md §1); this package only gives ProtocolInvalid (spec.md §7)
// something concrete to validate against.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed wire size of Header in bytes:
// magic(4) + version(4) + type(4) + priority(1) + sequenceID(4) +
// timestamp(8) + payloadSize(4) + checksum(4) + senderID(32) +
// receiverID(32) + flags(4) + reserved(3*4).
const HeaderSize = 4 + 4 + 4 + 1 + 4 + 8 + 4 + 4 + 32 + 32 + 4 + 3*4

// Magic is the constant every valid header must carry.
const Magic uint32 = 0x45444748 // "EDGH"

// MinVersion is the lowest accepted header version.
const MinVersion uint32 = 1

// idFieldSize is the fixed width of the zero-padded ASCII sender and
// receiver id fields.
const idFieldSize = 32

var (
	// ErrBadMagic, ErrBadVersion, ErrPayloadTooLarge and ErrChecksum are
	// the concrete ProtocolInvalid conditions from spec.md §7.
	ErrBadMagic        = errors.New("wire: magic mismatch")
	ErrBadVersion      = errors.New("wire: version too old")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds configured maximum")
	ErrChecksum        = errors.New("wire: checksum mismatch")
	ErrShortHeader     = errors.New("wire: buffer shorter than a header")
	ErrIDTooLong       = errors.New("wire: sender/receiver id exceeds 32 bytes")
)

// MessageType enumerates the header's type field.
type MessageType uint32

const (
	TypeUnknown MessageType = iota
	TypeData
	TypeControl
	TypeHeartbeat
	TypeAck
)

// Header is the fixed-layout frame header described in spec.md §6.
type Header struct {
	Version     uint32
	Type        MessageType
	Priority    uint8
	SequenceID  uint32
	TimestampMS uint64
	PayloadSize uint32
	Checksum    uint32
	SenderID    string
	ReceiverID  string
	Flags       uint32
	Reserved    [3]uint32
}

// NewHeader builds a Header for payload, computing PayloadSize and
// Checksum; the caller must still set SequenceID/Priority/Type/Flags as
// needed before encoding.
func NewHeader(payload []byte, senderID, receiverID string) (Header, error) {
	if len(senderID) > idFieldSize || len(receiverID) > idFieldSize {
		return Header{}, ErrIDTooLong
	}
	return Header{
		Version:     MinVersion,
		Type:        TypeData,
		PayloadSize: uint32(len(payload)),
		Checksum:    Checksum(payload),
		SenderID:    senderID,
		ReceiverID:  receiverID,
	}, nil
}

// Checksum sums payload bytes modulo 2^32 (spec.md §9: "a weak
// integrity check ... a framing sanity check, not security").
func Checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// Encode writes the header (not the payload) to a fresh HeaderSize
// buffer.
func (h Header) Encode() ([]byte, error) {
	if len(h.SenderID) > idFieldSize || len(h.ReceiverID) > idFieldSize {
		return nil, ErrIDTooLong
	}
	buf := make([]byte, HeaderSize)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], Magic)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.Version)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(h.Type))
	off += 4
	buf[off] = h.Priority
	off++
	binary.BigEndian.PutUint32(buf[off:], h.SequenceID)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], h.TimestampMS)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], h.PayloadSize)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.Checksum)
	off += 4
	copy(buf[off:off+idFieldSize], h.SenderID)
	off += idFieldSize
	copy(buf[off:off+idFieldSize], h.ReceiverID)
	off += idFieldSize
	binary.BigEndian.PutUint32(buf[off:], h.Flags)
	off += 4
	for _, r := range h.Reserved {
		binary.BigEndian.PutUint32(buf[off:], r)
		off += 4
	}
	return buf, nil
}

// Decode parses a Header out of the front of buf. It checks only the
// buffer length (ErrShortHeader) and the magic (ErrBadMagic); version,
// payload size and checksum are checked separately by Validate.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	off := 0
	magic := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if magic != Magic {
		return Header{}, ErrBadMagic
	}
	var h Header
	h.Version = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.Type = MessageType(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	h.Priority = buf[off]
	off++
	h.SequenceID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.TimestampMS = binary.BigEndian.Uint64(buf[off:])
	off += 8
	h.PayloadSize = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.Checksum = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.SenderID = trimPadding(buf[off : off+idFieldSize])
	off += idFieldSize
	h.ReceiverID = trimPadding(buf[off : off+idFieldSize])
	off += idFieldSize
	h.Flags = binary.BigEndian.Uint32(buf[off:])
	off += 4
	for i := range h.Reserved {
		h.Reserved[i] = binary.BigEndian.Uint32(buf[off:])
		off += 4
	}
	return h, nil
}

// Validate checks version, payload-size bound and (if payload is
// given) checksum, per spec.md §6's validity rules.
func (h Header) Validate(maxPayload uint32, payload []byte) error {
	if h.Version < MinVersion {
		return fmt.Errorf("%w: got %d, want >= %d", ErrBadVersion, h.Version, MinVersion)
	}
	if maxPayload > 0 && h.PayloadSize > maxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadSize, maxPayload)
	}
	if payload != nil {
		if uint32(len(payload)) != h.PayloadSize {
			return fmt.Errorf("%w: declared %d, got %d bytes", ErrShortHeader, h.PayloadSize, len(payload))
		}
		if Checksum(payload) != h.Checksum {
			return ErrChecksum
		}
	}
	return nil
}

func trimPadding(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}
