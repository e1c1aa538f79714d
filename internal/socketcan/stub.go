//go:build !linux

package socketcan

import (
	"errors"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
)

// ErrUnsupported is returned on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

// Device is a placeholder so non-linux builds compile.
type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (*Device) Receive(time.Duration) (can.Frame, error) { return can.Frame{}, ErrUnsupported }
func (*Device) Transmit(can.Frame, time.Duration) error  { return ErrUnsupported }
func (*Device) SetFilter([]uint32) error                 { return ErrUnsupported }
func (*Device) Close() error                             { return nil }
