//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-node/internal/bus"
	"github.com/kstaniek/go-can-node/internal/can"
)

// Device is a raw CAN socket bound to one interface. It implements
// bus.Controller and bus.Filterer.
type Device struct {
	fd    int
	iface string
}

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("nonblock(can@%s): %w", iface, err)
	}
	return &Device{fd: fd, iface: iface}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// wait polls for events up to timeout and reports whether they are ready.
func (d *Device) wait(events int16, timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&events != 0, nil
	}
}

// Receive reads one classic frame, waiting at most timeout.
// Extended, RTR and error frames are returned with their flag bits in ID,
// so they fail Validate and are counted as malformed by the caller.
func (d *Device) Receive(timeout time.Duration) (can.Frame, error) {
	ok, err := d.wait(unix.POLLIN, timeout)
	if err != nil {
		return can.Frame{}, err
	}
	if !ok {
		return can.Frame{}, bus.ErrNoFrame
	}
	var buf [mtu]byte
	n, err := unix.Read(d.fd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return can.Frame{}, bus.ErrNoFrame
	}
	if err != nil {
		return can.Frame{}, err
	}
	if n != mtu {
		return can.Frame{}, fmt.Errorf("short read: %d", n)
	}
	return unmarshal(buf), nil
}

// Transmit writes one frame, waiting at most timeout for socket buffer space.
func (d *Device) Transmit(fr can.Frame, timeout time.Duration) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	ok, err := d.wait(unix.POLLOUT, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return bus.ErrTxBufferFull
	}
	buf := marshal(fr)
	_, err = unix.Write(d.fd, buf[:])
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENOBUFS):
		return bus.ErrTxBufferFull
	case errors.Is(err, unix.EAGAIN):
		return bus.ErrBusBusy
	default:
		return err
	}
}

// SetFilter installs kernel acceptance filters for standard data frames with
// the given ids. nil accepts everything.
func (d *Device) SetFilter(ids []uint32) error {
	var filters []unix.CanFilter
	if ids == nil {
		filters = []unix.CanFilter{{Id: 0, Mask: 0}}
	} else {
		filters = make([]unix.CanFilter, 0, len(ids))
		for _, id := range ids {
			filters = append(filters, unix.CanFilter{
				Id:   id & can.CAN_SFF_MASK,
				Mask: can.CAN_SFF_MASK | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG,
			})
		}
	}
	if err := unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		return fmt.Errorf("filter(can@%s): %w", d.iface, err)
	}
	return nil
}
