package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otheng03/nbase-arc/internal/cluster"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

func assertSingleMaster(t *testing.T, h *harness, want int) {
	t.Helper()
	members := h.members()
	assert.Equal(t, 1, cluster.CountMasters(members))
	assert.Equal(t, want, cluster.Master(members).ID)
}

func TestRoleChange_FencesStaleCandidate(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	h.replicas[0].SetSeqLog(100, 100, 200, 100)
	h.replicas[1].SetSeqLog(100, 100, 100, 100)
	h.replicas[2].SetSeqLog(0, 0, 0, 0)
	ctx := context.Background()

	_, err := h.engine.RoleChange(ctx, h.ref, 2)
	require.Error(t, err)
	assert.Equal(t, "test_cluster/pg:0/pgs:2 has no recent logs", err.Error())
	assert.ErrorIs(t, err, cmerrors.ErrNoRecentLogs)
	assert.Equal(t, cmerrors.KindFencing, cmerrors.KindOf(err))

	// Nothing was committed or sent.
	assert.Equal(t, int64(1), h.stored(0).Version)
	assert.Equal(t, cluster.RoleMaster, h.stored(0).Role)
	assert.Equal(t, cluster.RoleSlave, h.stored(2).Role)
	for _, r := range h.replicas {
		assert.Empty(t, r.Commands())
	}
	assertSingleMaster(t, h, 0)

	out, err := h.engine.RoleChange(ctx, h.ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Master)
	assert.Equal(t, []int{}, out.RoleSlaveErrors)
	assert.True(t, out.Changed)

	assertSingleMaster(t, h, 1)
	assert.Equal(t, cluster.RoleSlave, h.stored(0).Role)
	assert.Equal(t, cluster.RoleMaster, h.stored(1).Role)
	assert.Equal(t, cluster.RoleSlave, h.stored(2).Role)

	pg := h.pg()
	assert.Equal(t, 1, pg.MasterGen)
	assert.Equal(t, int64(100), pg.MasterGenMap[1])

	assert.Equal(t, cluster.RoleMaster, h.replicas[1].Role())
	assert.Equal(t, cluster.RoleSlave, h.replicas[0].Role())
	assert.Equal(t, cluster.RoleSlave, h.replicas[2].Role())
	assert.Equal(t, "role lconn", h.replicas[0].Commands()[0])
	assert.Equal(t, "role master 1 2 100", h.replicas[1].Commands()[0])
}

func TestRoleChange_RejectsCandidateNotGreenSlave(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, memberState{cluster.RoleSlave, cluster.ColorRed})
	ctx := context.Background()

	for _, id := range []int{0, 2} {
		_, err := h.engine.RoleChange(ctx, h.ref, id)
		require.Error(t, err)
		assert.Equal(t, "the candidate is not a slave and green.", err.Error())
		assert.ErrorIs(t, err, cmerrors.ErrNotCandidate)
		assert.Equal(t, cmerrors.KindPrecondition, cmerrors.KindOf(err))
	}

	for i := range h.replicas {
		assert.Equal(t, int64(1), h.stored(i).Version)
	}
}

func TestRoleChange_NotEnoughAvailable(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, memberState{cluster.RoleSlave, cluster.ColorBlue})
	ctx := context.Background()

	_, err := h.engine.DecreaseQuorum(ctx, h.ref)
	require.NoError(t, err)

	_, err = h.engine.RoleChange(ctx, h.ref, 1)
	require.Error(t, err)
	assert.Equal(t, "not enough available pgs. PG.Q: 1, D: 1", err.Error())
}

func TestRoleChange_UnreachableCandidate(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave)
	h.replicas[1].SetDown(true)

	_, err := h.engine.RoleChange(context.Background(), h.ref, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, cmerrors.ErrReplicationPing)
	assertSingleMaster(t, h, 0)
}

func TestRoleChange_RedisPingFails(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	for _, r := range h.replicas {
		r.SetSeqLog(0, 50, 50, 50)
	}
	h.replicas[2].SetRedisDown(true)

	_, err := h.engine.RoleChange(context.Background(), h.ref, 1)
	require.Error(t, err)
	assert.Equal(t, "check redis replication ping fail, test_cluster/pg:0/pgs:2", err.Error())
	assert.ErrorIs(t, err, cmerrors.ErrReplicationPing)
	assert.Equal(t, cmerrors.KindPrecondition, cmerrors.KindOf(err))

	// Refused before any role command.
	for _, r := range h.replicas {
		assert.Empty(t, r.Commands())
	}
	assertSingleMaster(t, h, 0)
	assert.Equal(t, 0, h.pg().MasterGen)
}

// Members outside replication are not pinged.
func TestRoleChange_IgnoresRedisOfNonReplicas(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave, memberState{cluster.RoleLconn, cluster.ColorRed})
	for _, r := range h.replicas {
		r.SetSeqLog(0, 50, 50, 50)
	}
	h.replicas[3].SetDown(true)

	out, err := h.engine.RoleChange(context.Background(), h.ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Master)
	assertSingleMaster(t, h, 1)
}

func TestRoleChange_RelinkFailureIsReported(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	for _, r := range h.replicas {
		r.SetSeqLog(0, 50, 50, 50)
	}
	h.replicas[2].SetRejectRole(true)

	out, err := h.engine.RoleChange(context.Background(), h.ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Master)
	assert.Equal(t, []int{2}, out.RoleSlaveErrors)
	assertSingleMaster(t, h, 1)
}

func TestRoleChange_CandidateRefusesMaster(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave)
	h.replicas[1].SetRejectRole(true)

	_, err := h.engine.RoleChange(context.Background(), h.ref, 1)
	require.Error(t, err)
	assert.Equal(t, cmerrors.KindInfrastructure, cmerrors.KindOf(err))

	assertSingleMaster(t, h, 0)
	assert.Equal(t, int64(1), h.stored(0).Version)
	assert.Equal(t, 0, h.pg().MasterGen)

	// The previous master is told to resume.
	assert.Equal(t, cluster.RoleMaster, h.replicas[0].Role())
}

func TestRoleChange_RefreshesAffinity(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave)

	_, err := h.engine.RoleChange(context.Background(), h.ref, 1)
	require.NoError(t, err)

	var aff struct {
		PGs []struct {
			Master int `json:"master_ID"`
		} `json:"pg_list"`
	}
	_, err = h.store.Get(context.Background(), cluster.AffinityPath(testCluster), &aff)
	require.NoError(t, err)
	require.Len(t, aff.PGs, 1)
	assert.Equal(t, 1, aff.PGs[0].Master)
}
