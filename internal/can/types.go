package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit.
const MaxDataLen = 8

var (
	ErrInvalidID  = errors.New("can: invalid standard identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a classic CAN frame with an 11-bit standard identifier.
// Len is payload length (0..8); only the first Len bytes of Data are valid.
//
// Frames are passed by value: whoever holds a copy owns it.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [MaxDataLen]byte
}

// NewFrame builds a frame and validates identifier and length.
func NewFrame(id uint32, data []byte) (Frame, error) {
	var f Frame
	if id > CAN_SFF_MASK {
		return f, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	if len(data) > MaxDataLen {
		return f, fmt.Errorf("%w: %d", ErrInvalidLen, len(data))
	}
	f.ID = id
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, nil
}

// MustFrame is NewFrame that panics on invalid input. Convenience for tests and constants.
func MustFrame(id uint32, data ...byte) Frame {
	f, err := NewFrame(id, data)
	if err != nil {
		panic(err)
	}
	return f
}

// Validate reports whether the frame fits the classic standard-id format.
func (f Frame) Validate() error {
	if f.ID > CAN_SFF_MASK {
		return ErrInvalidID
	}
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	return nil
}

// Payload returns the valid data bytes. The slice aliases a copy of the frame.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// IDString formats the identifier the way logs print it.
func (f Frame) IDString() string { return IDString(f.ID) }

// IDString formats an identifier as 0x%03X.
func IDString(id uint32) string { return fmt.Sprintf("0x%03X", id) }
