package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otheng03/nbase-arc/internal/cluster"
)

func TestRoleAdjustment_UnreachableTurnsBlue(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	h.replicas[2].SetDown(true)

	out, err := h.engine.Run(context.Background(), RoleAdjustment, h.ref, true)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 0, out.Master)

	s := h.stored(2)
	assert.Equal(t, cluster.ColorBlue, s.Color)
	assert.Equal(t, cluster.RoleSlave, s.Role)

	// The cascade lowered the enforced quorum for the missing member.
	pg := h.pg()
	assert.Equal(t, 2, pg.Quorum)
	assert.Equal(t, 1, pg.ActiveQuorum)
	assert.Equal(t, 1, h.replicas[0].Quorum())

	var kinds []Kind
	for _, c := range out.Cascaded {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []Kind{MasterElection, QuorumAdjustment}, kinds)
}

func TestRoleAdjustment_LconnCatchesUp(t *testing.T) {
	h := newHarness(t, greenMaster, memberState{cluster.RoleLconn, cluster.ColorGreen})
	h.replicas[0].SetSeqLog(0, 100, 100, 100)
	h.replicas[1].SetSeqLog(0, 100, 100, 100)

	out, err := h.engine.Run(context.Background(), RoleAdjustment, h.ref, false)
	require.NoError(t, err)
	assert.True(t, out.Changed)

	assert.Equal(t, cluster.RoleSlave, h.stored(1).Role)
	assert.Equal(t, cluster.RoleSlave, h.replicas[1].Role())
	assert.Equal(t,
		[]string{fmt.Sprintf("role slave 1 127.0.0.1 %d 100", h.replicas[0].SMRPort())},
		h.replicas[1].Commands())
}

func TestRoleAdjustment_LconnBehindStays(t *testing.T) {
	h := newHarness(t, greenMaster, memberState{cluster.RoleLconn, cluster.ColorGreen})
	h.replicas[0].SetSeqLog(0, 100, 100, 100)
	h.replicas[1].SetSeqLog(0, 50, 50, 50)

	out, err := h.engine.Run(context.Background(), RoleAdjustment, h.ref, false)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, cluster.RoleLconn, h.stored(1).Role)
	assert.Empty(t, h.replicas[1].Commands())
}

func TestRoleAdjustment_RelinksDriftedSlave(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave)
	h.replicas[1].SetRole(cluster.RoleLconn)
	h.replicas[1].SetSeqLog(0, 70, 70, 70)

	out, err := h.engine.Run(context.Background(), RoleAdjustment, h.ref, false)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, cluster.RoleSlave, h.replicas[1].Role())
	assert.Equal(t, int64(1), h.stored(1).Version)
}

func TestRoleAdjustment_SteadyState(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)

	out, err := h.engine.Run(context.Background(), RoleAdjustment, h.ref, true)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Cascaded)
	for _, r := range h.replicas {
		assert.Empty(t, r.Commands())
	}
}
