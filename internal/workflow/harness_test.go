package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/cluster/state"
	"github.com/otheng03/nbase-arc/internal/gateway"
	"github.com/otheng03/nbase-arc/internal/probe"
	"github.com/otheng03/nbase-arc/internal/probe/probetest"
	"github.com/otheng03/nbase-arc/internal/store"
	"github.com/otheng03/nbase-arc/internal/worklog"
)

const testCluster = "test_cluster"

type memberState struct {
	role  cluster.Role
	color cluster.Color
}

type harness struct {
	t        *testing.T
	store    store.Store
	cache    *state.Cache
	engine   *Engine
	replicas []*probetest.Replica
	ref      Ref
}

// newHarness seeds pg 0 of test_cluster with one replica per member,
// copy = len(members) and quorum = copy-1.
func newHarness(t *testing.T, members ...memberState) *harness {
	t.Helper()

	s, err := store.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{t: t, store: s, ref: Ref{Cluster: testCluster, PGID: 0}}

	pg := &cluster.PartitionGroup{}
	ops := []store.Op{}
	for i, m := range members {
		r, err := probetest.NewReplica()
		require.NoError(t, err)
		t.Cleanup(r.Close)
		r.SetRole(m.role)
		h.replicas = append(h.replicas, r)

		pgs := r.PGS(testCluster, i, 0)
		pgs.Role, pgs.Color = m.role, m.color
		ops = append(ops, store.Create(cluster.PGSPath(testCluster, i), pgs))
		pg.AddMember(i)
	}
	if pg.Copy > 0 {
		pg.Quorum = pg.Copy - 1
	}
	pg.ActiveQuorum = pg.Quorum

	ops = append(ops,
		store.Create(cluster.ClusterPath(testCluster), &cluster.Cluster{PGIDs: []int{0}}),
		store.Create(cluster.PGPath(testCluster, 0), pg),
	)
	require.NoError(t, s.Multi(context.Background(), ops...))

	h.cache = state.NewCache(s, logr.Discard())
	require.NoError(t, h.cache.Load(context.Background()))

	client := probe.NewClient(time.Second)
	h.engine = New(Deps{
		Cache:        h.cache,
		Store:        s,
		Prober:       client,
		Notifier:     gateway.NewNotifier(client, s, h.cache, time.Second, logr.Discard()),
		WorkLog:      worklog.New(s, logr.Discard()),
		Logger:       logr.Discard(),
		ProbeTimeout: 500 * time.Millisecond,
	})
	return h
}

func (h *harness) pgs(id int) *cluster.PartitionGroupServer {
	h.t.Helper()
	s, err := h.cache.PGS(testCluster, id)
	require.NoError(h.t, err)
	return s
}

// stored reads a PGS straight from the store.
func (h *harness) stored(id int) *cluster.PartitionGroupServer {
	h.t.Helper()
	var s cluster.PartitionGroupServer
	v, err := h.store.Get(context.Background(), cluster.PGSPath(testCluster, id), &s)
	require.NoError(h.t, err)
	s.Version = v
	return &s
}

func (h *harness) pg() *cluster.PartitionGroup {
	h.t.Helper()
	pg, err := h.cache.PG(testCluster, 0)
	require.NoError(h.t, err)
	return pg
}

func (h *harness) members() []*cluster.PartitionGroupServer {
	return h.cache.Members(h.pg())
}

var (
	greenMaster = memberState{cluster.RoleMaster, cluster.ColorGreen}
	greenSlave  = memberState{cluster.RoleSlave, cluster.ColorGreen}
)
