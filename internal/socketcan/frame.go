package socketcan

import (
	"encoding/binary"

	"github.com/kstaniek/go-can-node/internal/can"
)

// mtu is sizeof(struct can_frame).
const mtu = 16

// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel uses host byte order; all supported targets are little-endian.
func marshal(fr can.Frame) [mtu]byte {
	var buf [mtu]byte
	binary.LittleEndian.PutUint32(buf[0:4], fr.ID)
	n := fr.Len
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	buf[4] = n
	copy(buf[8:], fr.Data[:n])
	return buf
}

func unmarshal(buf [mtu]byte) can.Frame {
	var fr can.Frame
	id := binary.LittleEndian.Uint32(buf[0:4])
	if id&(can.CAN_EFF_FLAG|can.CAN_RTR_FLAG|can.CAN_ERR_FLAG) == 0 {
		id &= can.CAN_SFF_MASK
	}
	dlc := buf[4]
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}
	fr.ID = id
	fr.Len = dlc
	copy(fr.Data[:], buf[8:8+int(dlc)])
	return fr
}
