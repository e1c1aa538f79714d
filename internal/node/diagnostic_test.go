package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/canmsg"
)

func TestDiagnosticDecodesAndCounts(t *testing.T) {
	h := newHarness(t, RoleDiagnostic, nil, nil)
	d := h.n.app.(*diagnostic)
	require.Nil(t, h.n.mgr, "diagnostic runs without a manager")

	send := []can.Frame{
		canmsg.WheelSpeeds{FL: 1, FR: 2, RL: 3, RR: 4}.Frame(),
		canmsg.DashboardGeneral{BrakeActive: true, LoopBudget: 9, BusBudget: 3}.Frame(canmsg.DashboardNodeID),
		canmsg.EngineBayGeneral{LoopBudget: 12, SenderBudget: 1}.Frame(canmsg.EngineBayNodeID),
		can.MustFrame(canmsg.BrakeStatusBID, 0), // too short
		can.MustFrame(0x7FF, 1, 2, 3),           // unknown
	}
	for _, fr := range send {
		require.NoError(t, h.peerS.Send(fr))
	}
	d.monitorLoop().RunOnce(context.Background())

	st := d.st.Get()
	assert.Equal(t, uint64(5), st.Frames)
	assert.Equal(t, uint64(4), st.Decoded)
	assert.Equal(t, uint64(1), st.Undecodable)
	assert.Equal(t, uint16(4), st.Wheels.RR)
	assert.True(t, st.BrakeA.PedalA)
	assert.True(t, st.Dashboard.BrakeActive)
	assert.Equal(t, uint8(12), st.EngineBay.LoopBudget)
}

func TestDiagnosticPollIsCapped(t *testing.T) {
	h := newHarness(t, RoleDiagnostic, nil, nil)
	d := h.n.app.(*diagnostic)
	for i := 0; i < 50; i++ {
		require.NoError(t, h.peerS.Send(can.MustFrame(0x100, byte(i))))
	}
	mon := d.monitorLoop()
	mon.RunOnce(context.Background())
	assert.Equal(t, uint64(42), d.st.Get().Frames)
	mon.RunOnce(context.Background())
	assert.Equal(t, uint64(50), d.st.Get().Frames)
}

func TestDiagnosticHeartbeat(t *testing.T) {
	h := newHarness(t, RoleDiagnostic, nil, nil)
	d := h.n.app.(*diagnostic)
	_, _ = d.st.Update(func(s *DiagnosticState) { s.LoopBudget = 7 })
	d.heartbeatLoop().RunOnce(context.Background())

	frames := h.peerFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, canmsg.DiagnosticNodeID, frames[0].ID)
	assert.Equal(t, canmsg.GeneralTag, frames[0].Data[0])
	assert.Equal(t, byte(7), frames[0].Data[7])
}

func TestOutputTestToggles(t *testing.T) {
	h := newHarness(t, RoleOutputTest, nil, nil)
	o := h.n.app.(*outputTest)
	l := o.toggleLoop()
	ctx := context.Background()

	l.RunOnce(ctx)
	assert.False(t, h.rig.Output.High())
	l.RunOnce(ctx)
	assert.True(t, h.rig.Output.High())
	l.RunOnce(ctx)
	assert.False(t, h.rig.Output.High())
	assert.Equal(t, 2, h.rig.Output.Toggles())
}
