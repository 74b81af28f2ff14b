package workflow

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otheng03/nbase-arc/internal/cluster"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

func TestQuorum_DecreaseThenIncrease(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	ctx := context.Background()

	out, err := h.engine.DecreaseQuorum(ctx, h.ref)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 1, h.pg().Quorum)
	assert.Equal(t, 1, h.pg().ActiveQuorum)
	assert.Equal(t, 1, h.replicas[0].Quorum())

	out, err = h.engine.Run(ctx, QuorumAdjustment, h.ref, true)
	require.NoError(t, err)
	assert.False(t, out.Changed)

	out, err = h.engine.IncreaseQuorum(ctx, h.ref)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 2, h.pg().Quorum)
	assert.Equal(t, 2, h.pg().ActiveQuorum)
	assert.Equal(t, 2, h.replicas[0].Quorum())

	assertSingleMaster(t, h, 0)
	for i := 1; i < 3; i++ {
		assert.Equal(t, cluster.RoleSlave, h.stored(i).Role)
	}
}

func TestQuorum_RejectsOutOfRange(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave)
	ctx := context.Background()

	_, err := h.engine.IncreaseQuorum(ctx, h.ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, cmerrors.ErrQuorumRange)
	assert.Equal(t, cmerrors.KindPrecondition, cmerrors.KindOf(err))

	_, err = h.engine.DecreaseQuorum(ctx, h.ref)
	require.NoError(t, err)

	_, err = h.engine.DecreaseQuorum(ctx, h.ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, cmerrors.ErrQuorumRange)
	assert.Equal(t, 0, h.pg().Quorum)
}

func TestQuorum_MasterRejectsSetQuorum(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	h.replicas[0].SetRejectRole(true)

	_, err := h.engine.DecreaseQuorum(context.Background(), h.ref)
	require.Error(t, err)
	assert.Equal(t, cmerrors.KindInfrastructure, cmerrors.KindOf(err))
	assert.Equal(t, 2, h.pg().Quorum)
}

func TestQuorum_StaysBelowCopy(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave, greenSlave)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 30; i++ {
		if rnd.Intn(2) == 0 {
			h.engine.IncreaseQuorum(ctx, h.ref)
		} else {
			h.engine.DecreaseQuorum(ctx, h.ref)
		}
		pg := h.pg()
		require.GreaterOrEqual(t, pg.Quorum, 0)
		require.Less(t, pg.Quorum, pg.Copy)
		require.LessOrEqual(t, pg.ActiveQuorum, pg.Quorum)
	}
}

func TestActiveQuorum(t *testing.T) {
	members := []*cluster.PartitionGroupServer{
		{ID: 0, Role: cluster.RoleMaster, Color: cluster.ColorGreen},
		{ID: 1, Role: cluster.RoleSlave, Color: cluster.ColorBlue},
		{ID: 2, Role: cluster.RoleLconn, Color: cluster.ColorGreen},
	}
	tests := []struct {
		name   string
		quorum int
		want   int
	}{
		{"two missing", 2, 0},
		{"clamped at zero", 1, 0},
		{"within copy", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg := &cluster.PartitionGroup{Copy: 3, Quorum: tt.quorum}
			assert.Equal(t, tt.want, activeQuorum(pg, members))
		})
	}
}

func TestQuorum_ResizeKeepsOffset(t *testing.T) {
	h := newHarness(t, greenMaster, greenSlave, greenSlave)
	ctx := context.Background()

	_, err := h.engine.DecreaseQuorum(ctx, h.ref)
	require.NoError(t, err)

	added := &cluster.PartitionGroupServer{Cluster: testCluster, ID: 3, PGID: 0,
		Role: cluster.RoleNone, Color: cluster.ColorRed, Host: "127.0.0.1"}
	v, err := h.store.Create(ctx, cluster.PGSPath(testCluster, 3), added)
	require.NoError(t, err)
	added.Version = v
	h.cache.PutPGS(added)

	pg := h.pg()
	pg.AddMember(3)
	require.NoError(t, h.engine.commit(ctx, pg))

	out, err := h.engine.ResizeQuorum(ctx, h.ref, 1)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 4, h.pg().Copy)
	assert.Equal(t, 2, h.pg().Quorum)
	// The NONE member does not acknowledge, so the master keeps quorum 1.
	assert.Equal(t, 1, h.pg().ActiveQuorum)
	assert.Equal(t, 1, h.replicas[0].Quorum())

	pg = h.pg()
	pg.RemoveMember(3)
	require.NoError(t, h.engine.commit(ctx, pg))

	_, err = h.engine.ResizeQuorum(ctx, h.ref, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.pg().Quorum)
	assert.Equal(t, 1, h.pg().ActiveQuorum)
	assert.Equal(t, 1, h.replicas[0].Quorum())
}

func TestQuorum_EmptyGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.engine.Run(ctx, QuorumAdjustment, h.ref, true)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, 0, h.pg().Copy)
	assert.Equal(t, 0, h.pg().Quorum)

	_, err = h.engine.IncreaseQuorum(ctx, h.ref)
	assert.ErrorIs(t, err, cmerrors.ErrQuorumRange)
	_, err = h.engine.DecreaseQuorum(ctx, h.ref)
	assert.ErrorIs(t, err, cmerrors.ErrQuorumRange)

	_, err = h.engine.ResizeQuorum(ctx, h.ref, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, h.pg().Quorum)
}
