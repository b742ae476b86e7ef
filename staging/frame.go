package staging

import (
	"encoding/binary"
	"errors"
)

// frameHeaderSize is the size of the big endian payload length preceding every frame.
const frameHeaderSize = 4

var (
	// ErrFrameTooLarge is returned when a payload exceeds the configured maximum frame size.
	ErrFrameTooLarge = errors.New("staging: frame too large")
	// ErrCorruptFrame is returned when a staged header announces an invalid payload size.
	ErrCorruptFrame = errors.New("staging: corrupt frame header")

	errInvalidWrite = errors.New("staging: invalid write result")
)

type frameHeader [frameHeaderSize]byte

func newFrameHeader(payloadSize uint32) frameHeader {
	var h frameHeader
	binary.BigEndian.PutUint32(h[:], payloadSize)
	return h
}

func (h *frameHeader) payloadSize() uint32 {
	return binary.BigEndian.Uint32(h[:])
}

// FrameSize returns the number of staged bytes needed by a payload of the given size.
func FrameSize(payloadSize int) int {
	return frameHeaderSize + payloadSize
}

// AppendFrame appends the framed encoding of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
