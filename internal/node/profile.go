package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/kstaniek/go-can-node/internal/bus"
	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/canmsg"
	"github.com/kstaniek/go-can-node/internal/queue"
)

// Role selects the node behavior.
type Role string

const (
	RoleEngineBay  Role = "engine-bay"
	RoleDashboard  Role = "dashboard"
	RoleDiagnostic Role = "diagnostic"
	RoleOutputTest Role = "output-test"
)

// Roles lists every known role.
var Roles = []Role{RoleEngineBay, RoleDashboard, RoleDiagnostic, RoleOutputTest}

var ErrUnknownRole = errors.New("node: unknown role")

// ParseRole maps a flag value to a Role.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w %q (use engine-bay|dashboard|diagnostic|output-test)", ErrUnknownRole, s)
}

func (r Role) usesBus() bool { return r != RoleOutputTest }

// Profile is the compiled-in configuration of a role. Command line options
// may override the node id and the queue plumbing, never the message set.
type Profile struct {
	Role   Role
	NodeID uint32

	// Direct runs without a bus manager: loops share the controller.
	Direct bool
	Bus    bus.Config
	// PollPerIter caps receives per iteration for Direct roles.
	PollPerIter int

	AppPeriod  time.Duration // sampling / application / monitor loop
	SendPeriod time.Duration // sender / heartbeat loop

	QueuePolicy   queue.Policy
	InboundDepth  int
	OutboundDepth int

	// EdgesPerCycle is the number of counted edges per wheel sensor period.
	EdgesPerCycle int

	// Dashboard gauge and lamps.
	WheelTimeout     time.Duration // hold the last speed this long without a 0x222
	SelfTestCycles   int
	SelfTestHz       uint32
	MinGaugeHz       uint32
	TachPulsesPerRev int
	OilHighRPM       uint16
}

// DefaultProfile returns the built-in profile for r.
func DefaultProfile(r Role) (Profile, error) {
	p := Profile{
		Role:          r,
		Bus:           bus.DefaultConfig(),
		QueuePolicy:   queue.DropOldest,
		InboundDepth:  20,
		OutboundDepth: 16,
	}
	switch r {
	case RoleEngineBay:
		p.NodeID = canmsg.EngineBayNodeID
		p.AppPeriod = 250 * time.Millisecond
		p.SendPeriod = 250 * time.Millisecond
		p.EdgesPerCycle = 1
	case RoleDashboard:
		p.NodeID = canmsg.DashboardNodeID
		p.AppPeriod = 100 * time.Millisecond
		p.WheelTimeout = time.Second
		p.SelfTestCycles = 4
		p.SelfTestHz = 200
		p.MinGaugeHz = 2
		p.TachPulsesPerRev = 2
		p.OilHighRPM = 2000
	case RoleDiagnostic:
		p.NodeID = canmsg.DiagnosticNodeID
		p.Direct = true
		p.PollPerIter = 42
		p.AppPeriod = 10 * time.Millisecond
		p.SendPeriod = 100 * time.Millisecond
		p.InboundDepth = 64
	case RoleOutputTest:
		p.AppPeriod = 2 * time.Second
	default:
		return Profile{}, fmt.Errorf("%w %q", ErrUnknownRole, r)
	}
	return p, nil
}

// Validate checks the profile for values the runtime cannot work with.
func (p Profile) Validate() error {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return err
	}
	if p.Role.usesBus() && p.NodeID > can.CAN_SFF_MASK {
		return fmt.Errorf("node: node id 0x%X is not a standard identifier", p.NodeID)
	}
	if p.AppPeriod <= 0 {
		return errors.New("node: app period must be > 0")
	}
	if p.Role == RoleEngineBay || p.Role == RoleDiagnostic {
		if p.SendPeriod <= 0 {
			return errors.New("node: send period must be > 0")
		}
	}
	if p.InboundDepth < 1 || (p.Role.usesBus() && !p.Direct && p.OutboundDepth < 1) {
		return errors.New("node: queue depths must be >= 1")
	}
	if p.Direct && p.PollPerIter < 1 {
		return errors.New("node: poll-per-iter must be >= 1")
	}
	return nil
}
