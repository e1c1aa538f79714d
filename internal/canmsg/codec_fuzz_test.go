package canmsg

import (
	"testing"

	"github.com/kstaniek/go-can-node/internal/can"
)

// FuzzDecoders ensures no decoder indexes past the received length.
func FuzzDecoders(f *testing.F) {
	f.Add(uint16(0x222), []byte{0, 10, 0, 40, 0, 25, 0, 5})
	f.Add(uint16(0x310), []byte{0x11})
	f.Add(uint16(0x300), []byte{})
	f.Fuzz(func(t *testing.T, id uint16, data []byte) {
		if len(data) > can.MaxDataLen {
			data = data[:can.MaxDataLen]
		}
		fr, err := can.NewFrame(uint32(id)&can.CAN_SFF_MASK, data)
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		_, _ = DecodeWheelSpeeds(fr)
		_, _ = DecodeBrakeStatus(fr)
		_, _ = DecodeEngineBayGeneral(fr)
		_, _ = DecodeDashboardGeneral(fr)
	})
}
