package slcan

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-can-node/internal/can"
)

// FuzzDecodeStream ensures arbitrary serial input never panics and every
// emitted frame is a valid standard frame that re-encodes to a parseable line.
func FuzzDecodeStream(f *testing.F) {
	f.Add([]byte("t2228000A002800190005\r"))
	f.Add([]byte("t3101C0\rz\r\a"))
	f.Add([]byte("T12345678812\rt12"))
	f.Fuzz(func(t *testing.T, data []byte) {
		buf := bytes.NewBuffer(data)
		DecodeStream(buf, func(fr can.Frame) {
			if err := fr.Validate(); err != nil {
				t.Fatalf("invalid frame emitted: %v", err)
			}
			line := Encode(fr)
			got, err := Parse(line[:len(line)-1])
			if err != nil || got != fr {
				t.Fatalf("re-encode mismatch: %q %v", line, err)
			}
		}, nil)
	})
}
