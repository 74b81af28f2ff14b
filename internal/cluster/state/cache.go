package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/store"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

type clusterEntry struct {
	cluster *cluster.Cluster
	pgs     map[int]*cluster.PartitionGroup
	pgss    map[int]*cluster.PartitionGroupServer
	gws     map[int]*cluster.Gateway
}

func newClusterEntry(c *cluster.Cluster) *clusterEntry {
	return &clusterEntry{
		cluster: c,
		pgs:     make(map[int]*cluster.PartitionGroup),
		pgss:    make(map[int]*cluster.PartitionGroupServer),
		gws:     make(map[int]*cluster.Gateway),
	}
}

// Cache mirrors the cluster subtree of the metadata store in memory.
//
// Workflows update it synchronously after each store commit; the watch loop
// catches changes made by other writers. An event is applied only when it
// carries a newer version than the cached copy. Getters return clones.
type Cache struct {
	store  store.Store
	logger logr.Logger

	mu       sync.RWMutex
	clusters map[string]*clusterEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCache(s store.Store, logger logr.Logger) *Cache {
	return &Cache{
		store:    s,
		logger:   logger.WithName("cache"),
		clusters: make(map[string]*clusterEntry),
	}
}

// Load replaces the cache content with everything under the cluster root.
func (c *Cache) Load(ctx context.Context) error {
	recs, err := c.store.List(ctx, cluster.ClusterRoot+"/")
	if err != nil {
		return fmt.Errorf("list clusters: %w", err)
	}

	c.mu.Lock()
	c.clusters = make(map[string]*clusterEntry)
	c.mu.Unlock()

	// Cluster records sort before their children, so entries exist by the
	// time PG/PGS/GW records are applied.
	for _, rec := range recs {
		if err := c.apply(rec); err != nil {
			return fmt.Errorf("load %s: %w", rec.Path, err)
		}
	}

	c.logger.Info("cache loaded", "records", len(recs), "clusters", len(c.ClusterNames()))
	return nil
}

// Start runs the watch loop until Stop is called.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.watchLoop(ctx)
}

func (c *Cache) watchLoop(ctx context.Context) {
	defer c.wg.Done()

	err := c.store.Watch(ctx, cluster.ClusterRoot+"/", func(rec store.Record) {
		if err := c.apply(rec); err != nil {
			c.logger.Error(err, "apply store event", "path", rec.Path)
		}
	})
	if err != nil {
		c.logger.Error(err, "watch stopped")
	}
}

func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cache) apply(rec store.Record) error {
	kind, name, id := cluster.ParsePath(rec.Path)
	if kind == cluster.KindUnknown {
		return nil
	}

	if rec.Deleted {
		c.remove(kind, name, id)
		return nil
	}

	switch kind {
	case cluster.KindCluster:
		v := &cluster.Cluster{}
		if err := rec.Decode(v); err != nil {
			return err
		}
		v.Name, v.Version = name, rec.Version
		c.PutCluster(v)

	case cluster.KindPG:
		v := &cluster.PartitionGroup{}
		if err := rec.Decode(v); err != nil {
			return err
		}
		v.Cluster, v.ID, v.Version = name, id, rec.Version
		c.PutPG(v)

	case cluster.KindPGS:
		v := &cluster.PartitionGroupServer{}
		if err := rec.Decode(v); err != nil {
			return err
		}
		v.Cluster, v.ID, v.Version = name, id, rec.Version
		c.PutPGS(v)

	case cluster.KindGW:
		v := &cluster.Gateway{}
		if err := rec.Decode(v); err != nil {
			return err
		}
		v.Cluster, v.ID, v.Version = name, id, rec.Version
		c.PutGW(v)
	}
	return nil
}

func (c *Cache) remove(kind cluster.EntityKind, name string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == cluster.KindCluster {
		delete(c.clusters, name)
		return
	}

	e, ok := c.clusters[name]
	if !ok {
		return
	}
	switch kind {
	case cluster.KindPG:
		delete(e.pgs, id)
	case cluster.KindPGS:
		delete(e.pgss, id)
	case cluster.KindGW:
		delete(e.gws, id)
	}
}

// entry returns the cluster entry, creating a placeholder when a child
// record arrives first. Callers hold c.mu.
func (c *Cache) entry(name string) *clusterEntry {
	e, ok := c.clusters[name]
	if !ok {
		e = newClusterEntry(&cluster.Cluster{Name: name})
		c.clusters[name] = e
	}
	return e
}

func (c *Cache) PutCluster(v *cluster.Cluster) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(v.Name)
	if e.cluster.Version > v.Version {
		return
	}
	e.cluster = v.Clone()
}

func (c *Cache) PutPG(v *cluster.PartitionGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(v.Cluster)
	if cur, ok := e.pgs[v.ID]; ok && cur.Version > v.Version {
		return
	}
	e.pgs[v.ID] = v.Clone()
}

func (c *Cache) PutPGS(v *cluster.PartitionGroupServer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(v.Cluster)
	if cur, ok := e.pgss[v.ID]; ok && cur.Version > v.Version {
		return
	}
	e.pgss[v.ID] = v.Clone()
}

func (c *Cache) PutGW(v *cluster.Gateway) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(v.Cluster)
	if cur, ok := e.gws[v.ID]; ok && cur.Version > v.Version {
		return
	}
	e.gws[v.ID] = v.Clone()
}

func (c *Cache) DeleteCluster(name string) { c.remove(cluster.KindCluster, name, 0) }

func (c *Cache) DeletePG(name string, id int) { c.remove(cluster.KindPG, name, id) }

func (c *Cache) DeletePGS(name string, id int) { c.remove(cluster.KindPGS, name, id) }

func (c *Cache) DeleteGW(name string, id int) { c.remove(cluster.KindGW, name, id) }

// ClusterNames returns the cached cluster names in order.
func (c *Cache) ClusterNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.clusters))
	for name := range c.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Cache) Cluster(name string) (*cluster.Cluster, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil, notFound(cmerrors.ErrClusterNotFound, "cluster does not exist. %s", name)
	}
	return e.cluster.Clone(), nil
}

func (c *Cache) PG(name string, id int) (*cluster.PartitionGroup, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil, notFound(cmerrors.ErrClusterNotFound, "cluster does not exist. %s", name)
	}
	pg, ok := e.pgs[id]
	if !ok {
		return nil, notFound(cmerrors.ErrPGNotFound, "pg does not exist. %s/pg:%d", name, id)
	}
	return pg.Clone(), nil
}

// PGs returns all partition groups of a cluster ordered by id.
func (c *Cache) PGs(name string) []*cluster.PartitionGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil
	}
	out := make([]*cluster.PartitionGroup, 0, len(e.pgs))
	for _, pg := range e.pgs {
		out = append(out, pg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) PGS(name string, id int) (*cluster.PartitionGroupServer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil, notFound(cmerrors.ErrClusterNotFound, "cluster does not exist. %s", name)
	}
	s, ok := e.pgss[id]
	if !ok {
		return nil, notFound(cmerrors.ErrPGSNotFound, "pgs does not exist. %s/pgs:%d", name, id)
	}
	return s.Clone(), nil
}

// Members returns the PGS records listed by pg, ordered by id. Ids without
// a cached record are skipped.
func (c *Cache) Members(pg *cluster.PartitionGroup) []*cluster.PartitionGroupServer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[pg.Cluster]
	if !ok {
		return nil
	}
	out := make([]*cluster.PartitionGroupServer, 0, len(pg.Members))
	for _, id := range pg.Members {
		if s, ok := e.pgss[id]; ok {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (c *Cache) GW(name string, id int) (*cluster.Gateway, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil, notFound(cmerrors.ErrClusterNotFound, "cluster does not exist. %s", name)
	}
	gw, ok := e.gws[id]
	if !ok {
		return nil, notFound(cmerrors.ErrGWNotFound, "gateway does not exist. %s/gw:%d", name, id)
	}
	return gw.Clone(), nil
}

// Gateways returns the gateways of a cluster ordered by id.
func (c *Cache) Gateways(name string) []*cluster.Gateway {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil
	}
	out := make([]*cluster.Gateway, 0, len(e.gws))
	for _, gw := range e.gws {
		out = append(out, gw.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RedisServer looks up the data-plane process bound to a PGS.
func (c *Cache) RedisServer(name string, pgsID int) (*cluster.RedisServer, error) {
	s, err := c.PGS(name, pgsID)
	if err != nil {
		return nil, err
	}
	return s.RedisServer(), nil
}

// PGIDs, PGSIDs and GWIDs resolve lock wildcards.

func (c *Cache) PGIDs(name string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil
	}
	return sortedKeys(e.pgs)
}

func (c *Cache) PGSIDs(name string, pgID int) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil
	}
	pg, ok := e.pgs[pgID]
	if !ok {
		return nil
	}
	return append([]int(nil), pg.Members...)
}

func (c *Cache) GWIDs(name string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.clusters[name]
	if !ok {
		return nil
	}
	return sortedKeys(e.gws)
}

// Counts reports the number of cached entities per kind, for metrics.
func (c *Cache) Counts() (clusters, pgs, pgss, gws int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.clusters {
		pgs += len(e.pgs)
		pgss += len(e.pgss)
		gws += len(e.gws)
	}
	return len(c.clusters), pgs, pgss, gws
}

func sortedKeys[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func notFound(sentinel error, format string, args ...interface{}) error {
	return cmerrors.Precondition(sentinel, format, args...)
}

// IsNotFound reports whether err is a cache miss of any entity kind.
func IsNotFound(err error) bool {
	return errors.Is(err, cmerrors.ErrClusterNotFound) ||
		errors.Is(err, cmerrors.ErrPGNotFound) ||
		errors.Is(err, cmerrors.ErrPGSNotFound) ||
		errors.Is(err, cmerrors.ErrGWNotFound)
}
