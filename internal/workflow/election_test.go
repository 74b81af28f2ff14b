package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otheng03/nbase-arc/internal/cluster"
)

func TestMasterElection_PicksHighestCommit(t *testing.T) {
	h := newHarness(t,
		memberState{cluster.RoleMaster, cluster.ColorBlue},
		greenSlave,
		greenSlave,
	)
	h.replicas[0].SetDown(true)
	h.replicas[1].SetSeqLog(0, 80, 80, 80)
	h.replicas[2].SetSeqLog(0, 120, 120, 120)

	out, err := h.engine.MasterElection(context.Background(), h.ref, -1)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 2, out.Master)

	assertSingleMaster(t, h, 2)
	assert.Equal(t, cluster.RoleLconn, h.stored(0).Role)
	assert.Equal(t, cluster.ColorBlue, h.stored(0).Color)
	assert.Equal(t, cluster.RoleSlave, h.stored(1).Role)

	pg := h.pg()
	assert.Equal(t, 1, pg.MasterGen)
	assert.Equal(t, int64(120), pg.MasterGenMap[1])
	assert.Equal(t, cluster.RoleMaster, h.replicas[2].Role())
	assert.Equal(t, cluster.RoleSlave, h.replicas[1].Role())
}

func TestMasterElection_TieGoesToLowestID(t *testing.T) {
	h := newHarness(t,
		memberState{cluster.RoleMaster, cluster.ColorBlue},
		greenSlave,
		greenSlave,
	)
	h.replicas[1].SetSeqLog(0, 50, 50, 50)
	h.replicas[2].SetSeqLog(0, 50, 50, 50)

	out, err := h.engine.MasterElection(context.Background(), h.ref, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Master)
	assertSingleMaster(t, h, 1)
}

func TestMasterElection_HintIsExcluded(t *testing.T) {
	h := newHarness(t,
		memberState{cluster.RoleMaster, cluster.ColorBlue},
		greenSlave,
		greenSlave,
	)
	h.replicas[1].SetSeqLog(0, 50, 50, 50)
	h.replicas[2].SetSeqLog(0, 50, 50, 50)

	out, err := h.engine.MasterElection(context.Background(), h.ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Master)
}

func TestMasterElection_NoopWithHealthyMaster(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave)

	out, err := h.engine.MasterElection(context.Background(), h.ref, -1)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, 0, out.Master)
	assert.Empty(t, h.replicas[1].Commands())
	assert.Equal(t, int64(1), h.stored(0).Version)
}

func TestMasterElection_NoCandidate(t *testing.T) {
	h := newHarness(t,
		memberState{cluster.RoleMaster, cluster.ColorBlue},
		memberState{cluster.RoleSlave, cluster.ColorBlue},
	)

	out, err := h.engine.MasterElection(context.Background(), h.ref, -1)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, -1, out.Master)
	require.Len(t, out.Failures, 1)
	assert.Contains(t, out.Failures[0], "no master candidate")
}

func TestMasterElection_UnresponsiveCandidates(t *testing.T) {
	h := newHarness(t,
		memberState{cluster.RoleMaster, cluster.ColorBlue},
		greenSlave,
	)
	h.replicas[1].SetDown(true)

	out, err := h.engine.MasterElection(context.Background(), h.ref, -1)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, 1, cluster.CountMasters(h.members()))
	assert.Equal(t, cluster.RoleMaster, h.stored(0).Role)
}
