package canmsg

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-node/internal/can"
)

// ErrShortFrame is returned when a payload is shorter than its layout needs.
var ErrShortFrame = errors.New("canmsg: frame too short")

// ErrBadTag is returned when a general frame does not start with GeneralTag.
var ErrBadTag = errors.New("canmsg: bad general frame tag")

// DecodeError describes an undersized frame. It unwraps to ErrShortFrame.
type DecodeError struct {
	ID   uint32
	Want int
	Got  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("canmsg: frame %s needs %d bytes, got %d", can.IDString(e.ID), e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error { return ErrShortFrame }

func need(f can.Frame, n int) error {
	if int(f.Len) < n {
		return &DecodeError{ID: f.ID, Want: n, Got: int(f.Len)}
	}
	return nil
}

// PutU16 writes v big-endian at b[off:off+2]. Out of range offsets are ignored.
func PutU16(b []byte, off int, v uint16) {
	if off < 0 || off+2 > len(b) {
		return
	}
	b[off] = byte(v >> 8)
	b[off+1] = byte(v)
}

// U16 reads a big-endian value at b[off:off+2]; ok is false if b is too short.
func U16(b []byte, off int) (v uint16, ok bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return uint16(b[off])<<8 | uint16(b[off+1]), true
}

// PackFlags packs up to eight flags MSB-first: flags[0] is bit 7.
// Unused bits stay zero; extra flags are ignored.
func PackFlags(flags ...bool) byte {
	var b byte
	for i, v := range flags {
		if i >= 8 {
			break
		}
		if v {
			b |= 1 << (7 - i)
		}
	}
	return b
}

// UnpackFlags is the inverse of PackFlags.
func UnpackFlags(b byte) [8]bool {
	var out [8]bool
	for i := range out {
		out[i] = b&(1<<(7-i)) != 0
	}
	return out
}

// WheelSpeeds are the four wheel sensor frequencies in Hz.
type WheelSpeeds struct {
	FL, FR, RL, RR uint16
}

// Max returns the highest of the four frequencies.
func (w WheelSpeeds) Max() uint16 {
	m := w.FL
	for _, v := range [...]uint16{w.FR, w.RL, w.RR} {
		if v > m {
			m = v
		}
	}
	return m
}

// Frame encodes the wheel speeds under WheelSpeedID.
func (w WheelSpeeds) Frame() can.Frame {
	var d [wheelSpeedLen]byte
	PutU16(d[:], 0, w.FL)
	PutU16(d[:], 2, w.FR)
	PutU16(d[:], 4, w.RL)
	PutU16(d[:], 6, w.RR)
	return can.Frame{ID: WheelSpeedID, Len: wheelSpeedLen, Data: d}
}

// DecodeWheelSpeeds decodes a 0x222 payload.
func DecodeWheelSpeeds(f can.Frame) (WheelSpeeds, error) {
	var w WheelSpeeds
	if err := need(f, wheelSpeedLen); err != nil {
		return w, err
	}
	p := f.Payload()
	w.FL, _ = U16(p, 0)
	w.FR, _ = U16(p, 2)
	w.RL, _ = U16(p, 4)
	w.RR, _ = U16(p, 6)
	return w, nil
}

// BrakeStatus carries the two brake pedal switches.
type BrakeStatus struct {
	PedalA bool
	PedalB bool
}

// Any reports whether either pedal switch is active.
func (b BrakeStatus) Any() bool { return b.PedalA || b.PedalB }

// DecodeBrakeStatus reads the pedal bits from byte 1 of a 0x310/0x320 payload.
func DecodeBrakeStatus(f can.Frame) (BrakeStatus, error) {
	if err := need(f, brakeStatusLen); err != nil {
		return BrakeStatus{}, err
	}
	bits := UnpackFlags(f.Data[brakeByte])
	return BrakeStatus{PedalA: bits[0], PedalB: bits[1]}, nil
}

// EngineBayGeneral is the engine-bay node status frame.
type EngineBayGeneral struct {
	LoopBudget   uint8 // abs sampling loop, percent of period
	SenderBudget uint8 // frame sender loop, percent of period
}

// Frame encodes the status frame under the node's own id.
func (g EngineBayGeneral) Frame(id uint32) can.Frame {
	return can.Frame{ID: id, Len: generalLen, Data: [8]byte{GeneralTag, 0, 0, 0, 0, 0, g.LoopBudget, g.SenderBudget}}
}

// DecodeEngineBayGeneral decodes an engine-bay status frame.
func DecodeEngineBayGeneral(f can.Frame) (EngineBayGeneral, error) {
	if err := checkGeneral(f); err != nil {
		return EngineBayGeneral{}, err
	}
	return EngineBayGeneral{LoopBudget: f.Data[budgetByteA], SenderBudget: f.Data[budgetByteB]}, nil
}

// DashboardGeneral is the dashboard node status frame.
type DashboardGeneral struct {
	BrakeActive bool
	LoopBudget  uint8 // app loop, percent of period
	BusBudget   uint8 // bus manager, percent of interval
}

// Frame encodes the status frame under the node's own id. Brake active sets
// both pedal bits so the frame reads as a brake status at the engine bay.
func (g DashboardGeneral) Frame(id uint32) can.Frame {
	flags := PackFlags(g.BrakeActive, g.BrakeActive)
	return can.Frame{ID: id, Len: generalLen, Data: [8]byte{GeneralTag, flags, 0, 0, 0, 0, g.LoopBudget, g.BusBudget}}
}

// DecodeDashboardGeneral decodes a dashboard status frame.
func DecodeDashboardGeneral(f can.Frame) (DashboardGeneral, error) {
	if err := checkGeneral(f); err != nil {
		return DashboardGeneral{}, err
	}
	bits := UnpackFlags(f.Data[brakeByte])
	return DashboardGeneral{
		BrakeActive: bits[0] || bits[1],
		LoopBudget:  f.Data[budgetByteA],
		BusBudget:   f.Data[budgetByteB],
	}, nil
}

// Heartbeat is the diagnostic node status frame: tag plus its loop budget in byte 7.
func Heartbeat(id uint32, budget uint8) can.Frame {
	return can.Frame{ID: id, Len: generalLen, Data: [8]byte{GeneralTag, 0, 0, 0, 0, 0, 0, budget}}
}

func checkGeneral(f can.Frame) error {
	if err := need(f, generalLen); err != nil {
		return err
	}
	if f.Data[0] != GeneralTag {
		return fmt.Errorf("%w: %s starts with 0x%02X", ErrBadTag, f.IDString(), f.Data[0])
	}
	return nil
}

// ClampPercent converts a budget percentage to the single diagnostic byte.
func ClampPercent(pct int) uint8 {
	switch {
	case pct < 0:
		return 0
	case pct > 255:
		return 255
	default:
		return uint8(pct)
	}
}
