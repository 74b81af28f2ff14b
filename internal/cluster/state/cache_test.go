package state

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/store"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	err := s.Multi(ctx,
		store.Create(cluster.ClusterPath("c1"), &cluster.Cluster{PGIDs: []int{0}, GWIDs: []int{1}}),
		store.Create(cluster.PGPath("c1", 0), &cluster.PartitionGroup{Copy: 2, Quorum: 1, Members: []int{0, 1}}),
		store.Create(cluster.PGSPath("c1", 0), &cluster.PartitionGroupServer{PGID: 0, Role: cluster.RoleMaster, Color: cluster.ColorGreen, Host: "127.0.0.1", SMRPort: 7103, RedisPort: 7109}),
		store.Create(cluster.PGSPath("c1", 1), &cluster.PartitionGroupServer{PGID: 0, Role: cluster.RoleSlave, Color: cluster.ColorGreen, Host: "127.0.0.1", SMRPort: 7203, RedisPort: 7209}),
		store.Create(cluster.GWPath("c1", 1), &cluster.Gateway{Host: "127.0.0.1", Port: 6000}),
	)
	require.NoError(t, err)
}

func TestCache_Load(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	c := NewCache(s, logr.Discard())
	require.NoError(t, c.Load(context.Background()))

	assert.Equal(t, []string{"c1"}, c.ClusterNames())

	cl, err := c.Cluster("c1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, cl.PGIDs)

	pg, err := c.PG("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pg.Copy)
	assert.Equal(t, int64(1), pg.Version)

	members := c.Members(pg)
	require.Len(t, members, 2)
	assert.Equal(t, cluster.RoleMaster, members[0].Role)
	assert.Equal(t, "c1/pg:0/pgs:1", members[1].FullName())

	rs, err := c.RedisServer("c1", 1)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7209", rs.Addr())

	assert.Equal(t, []int{0}, c.PGIDs("c1"))
	assert.Equal(t, []int{0, 1}, c.PGSIDs("c1", 0))
	assert.Equal(t, []int{1}, c.GWIDs("c1"))

	clusters, pgs, pgss, gws := c.Counts()
	assert.Equal(t, []int{1, 1, 2, 1}, []int{clusters, pgs, pgss, gws})
}

func TestCache_NotFound(t *testing.T) {
	c := NewCache(newTestStore(t), logr.Discard())

	_, err := c.PG("nope", 0)
	assert.ErrorIs(t, err, cmerrors.ErrClusterNotFound)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, cmerrors.KindPrecondition, cmerrors.KindOf(err))

	c.PutCluster(&cluster.Cluster{Name: "c1"})
	_, err = c.PGS("c1", 3)
	assert.ErrorIs(t, err, cmerrors.ErrPGSNotFound)
	assert.Contains(t, err.Error(), "c1/pgs:3")
}

func TestCache_ClonesOnRead(t *testing.T) {
	c := NewCache(newTestStore(t), logr.Discard())
	c.PutPG(&cluster.PartitionGroup{Cluster: "c1", ID: 0, Members: []int{0, 1}})

	pg, err := c.PG("c1", 0)
	require.NoError(t, err)
	pg.Members[0] = 99
	pg.Quorum = 5

	again, err := c.PG("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, again.Members)
	assert.Equal(t, 0, again.Quorum)
}

func TestCache_IgnoresOlderVersion(t *testing.T) {
	c := NewCache(newTestStore(t), logr.Discard())

	c.PutPGS(&cluster.PartitionGroupServer{Cluster: "c1", ID: 0, Color: cluster.ColorGreen, Version: 3})
	c.PutPGS(&cluster.PartitionGroupServer{Cluster: "c1", ID: 0, Color: cluster.ColorRed, Version: 2})

	s, err := c.PGS("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, cluster.ColorGreen, s.Color)
	assert.Equal(t, int64(3), s.Version)
}

func TestCache_WatchAppliesExternalWrites(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	c := NewCache(s, logr.Discard())
	require.NoError(t, c.Load(context.Background()))
	c.Start(context.Background())
	defer c.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	_, err := s.Update(ctx, cluster.PGSPath("c1", 1),
		&cluster.PartitionGroupServer{PGID: 0, Role: cluster.RoleSlave, Color: cluster.ColorBlue, Host: "127.0.0.1", SMRPort: 7203, RedisPort: 7209}, 1)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, cluster.GWPath("c1", 1), store.AnyVersion))

	require.Eventually(t, func() bool {
		pgs, err := c.PGS("c1", 1)
		return err == nil && pgs.Color == cluster.ColorBlue && pgs.Version == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(c.Gateways("c1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
