// Package canmsg packs and unpacks node state into the fixed frame layouts
// exchanged on the vehicle bus.
//
// Layouts (payload bytes, multi-byte values big-endian, flags MSB-first):
//
//	0x222  wheel speeds     FL[0:2] FR[2:4] RL[4:6] RR[6:8]  (Hz, u16)
//	0x310  brake status A   [1] bit0=pedal A, bit1=pedal B
//	0x320  brake status B   same layout as 0x310
//	node   engine-bay gen.  [0]=0x11 [6]=abs loop %  [7]=sender loop %
//	node   dashboard gen.   [0]=0x11 [1] bit0,bit1=brake active [6]=app loop % [7]=bus %
package canmsg

const (
	WheelSpeedID   uint32 = 0x222
	BrakeStatusAID uint32 = 0x310
	BrakeStatusBID uint32 = 0x320
	// DashboardAuxID is listened to by the dashboard but carries nothing it decodes.
	DashboardAuxID uint32 = 0x210

	// GeneralTag marks byte 0 of every node general frame.
	GeneralTag byte = 0x11
)

// Default node transmit identifiers.
const (
	EngineBayNodeID uint32 = 0x300
	// DashboardNodeID doubles as brake status A: the dashboard general frame
	// carries the pedal flags in byte 1.
	DashboardNodeID  uint32 = BrakeStatusAID
	DiagnosticNodeID uint32 = 0x330
)

const (
	wheelSpeedLen  = 8
	brakeStatusLen = 2
	generalLen     = 8
	brakeByte      = 1
	budgetByteA    = 6
	budgetByteB    = 7
)
