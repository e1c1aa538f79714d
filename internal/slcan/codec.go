// Package slcan speaks the Lawicel ASCII protocol used by USB-serial CAN
// adapters.
package slcan

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

var (
	ErrMalformed = errors.New("slcan: malformed line")
	ErrBitrate   = errors.New("slcan: unsupported bitrate")
)

const (
	cr   = '\r'
	bell = 0x07

	// longest classic line: t + 3 id + 1 dlc + 16 data
	maxLine = 1 + 3 + 1 + 16
)

const hexDigits = "0123456789ABCDEF"

// Encode renders a standard data frame as "tIIILDD..\r".
func Encode(f can.Frame) []byte {
	n := int(f.Len)
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	out := make([]byte, 0, maxLine+1)
	id := f.ID & can.CAN_SFF_MASK
	out = append(out, 't',
		hexDigits[(id>>8)&0xF], hexDigits[(id>>4)&0xF], hexDigits[id&0xF],
		hexDigits[n])
	for _, b := range f.Data[:n] {
		out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return append(out, cr)
}

// Parse decodes one line without its terminator.
func Parse(line []byte) (can.Frame, error) {
	if len(line) < 5 || line[0] != 't' {
		return can.Frame{}, ErrMalformed
	}
	id, ok := hexVal(line[1:4])
	if !ok {
		return can.Frame{}, ErrMalformed
	}
	dlc, ok := hexVal(line[4:5])
	if !ok || dlc > can.MaxDataLen {
		return can.Frame{}, ErrMalformed
	}
	data := line[5:]
	// some adapters append a 4-digit timestamp
	if len(data) != int(dlc)*2 && len(data) != int(dlc)*2+4 {
		return can.Frame{}, ErrMalformed
	}
	fr := can.Frame{ID: id, Len: uint8(dlc)}
	for i := 0; i < int(dlc); i++ {
		v, ok := hexVal(data[2*i : 2*i+2])
		if !ok {
			return can.Frame{}, ErrMalformed
		}
		fr.Data[i] = byte(v)
	}
	return fr, nil
}

func hexVal(b []byte) (uint32, bool) {
	var v uint32
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
			c -= '0'
		case c >= 'A' && c <= 'F':
			c = c - 'A' + 10
		case c >= 'a' && c <= 'f':
			c = c - 'a' + 10
		default:
			return 0, false
		}
		v = v<<4 | uint32(c)
	}
	return v, true
}

// DecodeStream consumes complete lines from in and emits data frames via out.
// Acks ("z", "Z", empty) are skipped; a bell reports a rejected command via
// onBell. Partial trailing input stays buffered.
func DecodeStream(in *bytes.Buffer, out func(can.Frame), onBell func()) {
	for {
		data := in.Bytes()
		i := bytes.IndexAny(data, "\r\a")
		if i < 0 {
			// runaway garbage without terminator
			if in.Len() > 4*maxLine {
				metrics.IncMalformed()
				in.Reset()
			}
			return
		}
		if data[i] == bell {
			in.Next(i + 1)
			if onBell != nil {
				onBell()
			}
			continue
		}
		line := data[:i]
		in.Next(i + 1)
		switch {
		case len(line) == 0, line[0] == 'z', line[0] == 'Z':
			continue
		case line[0] == 'T', line[0] == 'r', line[0] == 'R':
			// extended and remote frames are outside the node's message set
			metrics.IncFiltered()
			continue
		}
		fr, err := Parse(line)
		if err != nil {
			metrics.IncMalformed()
			continue
		}
		out(fr)
	}
}

var bitrates = map[int]byte{
	10000: '0', 20000: '1', 50000: '2', 100000: '3', 125000: '4',
	250000: '5', 500000: '6', 800000: '7', 1000000: '8',
}

// BitrateCommand returns the "Sn\r" setup command for bitrate in bit/s.
func BitrateCommand(bitrate int) ([]byte, error) {
	c, ok := bitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBitrate, bitrate)
	}
	return []byte{'S', c, cr}, nil
}
