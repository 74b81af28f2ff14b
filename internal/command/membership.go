package command

import (
	"context"
	"errors"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/store"
	"github.com/otheng03/nbase-arc/internal/workflow"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

func (r *Registry) clusterAdd(ctx context.Context, args []string) (string, error) {
	name := args[0]
	if _, err := r.cache.Cluster(name); err == nil {
		return "", cmerrors.Precondition(cmerrors.ErrDuplicated, "duplicated cluster. %s", name)
	}

	c := &cluster.Cluster{Name: name, PGIDs: []int{}, GWIDs: []int{}}
	version, err := r.store.Create(ctx, cluster.ClusterPath(name), c)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to create cluster %s", name)
	}
	c.Version = version
	r.cache.PutCluster(c)

	r.audit(ctx, "cluster_add", name, "cluster added. %s", name)
	return ReplyOK, nil
}

func (r *Registry) clusterDel(ctx context.Context, args []string) (string, error) {
	name := args[0]
	c, err := r.cache.Cluster(name)
	if err != nil {
		return "", err
	}
	if len(c.PGIDs) > 0 || len(c.GWIDs) > 0 {
		return "", cmerrors.Precondition(cmerrors.ErrClusterNotEmpty, "the cluster has a pg or gateway. %s", name)
	}

	if err := r.store.Delete(ctx, cluster.ClusterPath(name), c.Version); err != nil {
		return "", cmerrors.Infrastructure(err, "failed to delete cluster %s", name)
	}
	err = r.store.Delete(ctx, cluster.AffinityPath(name), store.AnyVersion)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Error(err, "delete affinity", "cluster", name)
	}
	r.cache.DeleteCluster(name)

	r.audit(ctx, "cluster_del", name, "cluster deleted. %s", name)
	return ReplyOK, nil
}

func (r *Registry) pgsAdd(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	pgsID, err := parseID(args[1], "pgsid")
	if err != nil {
		return "", err
	}
	pgID, err := parseID(args[2], "pgid")
	if err != nil {
		return "", err
	}
	basePort, err := parsePort(args[4], "base_port")
	if err != nil {
		return "", err
	}
	redisPort, err := parsePort(args[5], "redis_port")
	if err != nil {
		return "", err
	}

	pg, err := r.cache.PG(clusterName, pgID)
	if err != nil {
		return "", err
	}
	if _, err := r.cache.PGS(clusterName, pgsID); err == nil {
		return "", cmerrors.Precondition(cmerrors.ErrDuplicated, "duplicated pgsid")
	}

	s := &cluster.PartitionGroupServer{
		Cluster:   clusterName,
		ID:        pgsID,
		PGID:      pgID,
		Role:      cluster.RoleNone,
		Color:     cluster.ColorRed,
		Host:      args[3],
		ReplPort:  basePort,
		SMRPort:   basePort + 3,
		RedisPort: redisPort,
	}
	pg.AddMember(pgsID)

	err = r.store.Multi(ctx,
		store.Create(cluster.PGSPath(clusterName, pgsID), s),
		store.Update(cluster.PGPath(clusterName, pgID), pg, pg.Version),
	)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to create %s", s.FullName())
	}
	s.Version = 1
	pg.Version++
	r.cache.PutPGS(s)
	r.cache.PutPG(pg)

	r.audit(ctx, "pgs_add", clusterName, "pgs added. %s %s:%d", s.FullName(), s.Host, s.ReplPort)

	if _, err := r.engine.ResizeQuorum(ctx, workflow.Ref{Cluster: clusterName, PGID: pgID}, 1); err != nil {
		return "", err
	}
	return ReplyOK, nil
}

func (r *Registry) pgsDel(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	pgsID, pgID, err := r.pgOf(clusterName, args[1])
	if err != nil {
		return "", err
	}
	s, err := r.cache.PGS(clusterName, pgsID)
	if err != nil {
		return "", err
	}
	if s.Role.Replicating() {
		return "", cmerrors.Precondition(nil, "the pgs is still replicating. %s role:%s", s.FullName(), s.Role)
	}
	pg, err := r.cache.PG(clusterName, pgID)
	if err != nil {
		return "", err
	}
	pg.RemoveMember(pgsID)

	err = r.store.Multi(ctx,
		store.Delete(cluster.PGSPath(clusterName, pgsID), s.Version),
		store.Update(cluster.PGPath(clusterName, pgID), pg, pg.Version),
	)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to delete %s", s.FullName())
	}
	pg.Version++
	r.cache.DeletePGS(clusterName, pgsID)
	r.cache.PutPG(pg)

	r.audit(ctx, "pgs_del", clusterName, "pgs deleted. %s", s.FullName())

	if _, err := r.engine.ResizeQuorum(ctx, workflow.Ref{Cluster: clusterName, PGID: pgID}, -1); err != nil {
		return "", err
	}
	return ReplyOK, nil
}

// pgsLeave takes a joined PGS out of replication so it can be deleted. With
// forced, a replica that cannot be told to step down is detached anyway.
func (r *Registry) pgsLeave(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	if len(args) > 3 {
		return "", cmerrors.Precondition(cmerrors.ErrInvalidArgs, "wrong number of arguments. usage: %s", r.Lookup("pgs_leave").Usage)
	}
	forced := false
	if len(args) == 3 {
		if args[2] != "forced" {
			return "", cmerrors.Precondition(cmerrors.ErrInvalidArgs, "invalid option. %s", args[2])
		}
		forced = true
	}

	pgsID, pgID, err := r.pgOf(clusterName, args[1])
	if err != nil {
		return "", err
	}

	ref := workflow.Ref{Cluster: clusterName, PGID: pgID}
	out, err := r.engine.Leave(ctx, ref, pgsID, forced)
	if err != nil {
		return "", err
	}

	r.audit(ctx, "pgs_leave", clusterName, "pgs left. %s/pgs:%d master:%d failures:%v", ref, pgsID, out.Master, out.Failures)
	return ReplyOK, nil
}

// pgsJoin declares that a new PGS wants to join its group and then runs the
// yellow join path with cascading.
func (r *Registry) pgsJoin(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	pgsID, pgID, err := r.pgOf(clusterName, args[1])
	if err != nil {
		return "", err
	}
	s, err := r.cache.PGS(clusterName, pgsID)
	if err != nil {
		return "", err
	}
	if s.Role != cluster.RoleNone {
		return "", cmerrors.Precondition(nil, "the pgs is already joined. %s role:%s", s.FullName(), s.Role)
	}

	s.Role = cluster.RoleLconn
	version, err := r.store.Update(ctx, cluster.PGSPath(clusterName, pgsID), s, s.Version)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to update %s", s.FullName())
	}
	s.Version = version
	r.cache.PutPGS(s)

	ref := workflow.Ref{Cluster: clusterName, PGID: pgID}
	out, err := r.engine.Run(ctx, workflow.YellowJoin, ref, true)
	if err != nil {
		return "", err
	}

	r.audit(ctx, "pgs_join", clusterName, "pgs joined. %s failures:%v", s.FullName(), out.Failures)
	return ReplyOK, nil
}

func (r *Registry) gwAdd(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	gwID, err := parseID(args[1], "gwid")
	if err != nil {
		return "", err
	}
	port, err := parsePort(args[3], "port")
	if err != nil {
		return "", err
	}

	c, err := r.cache.Cluster(clusterName)
	if err != nil {
		return "", err
	}
	if _, err := r.cache.GW(clusterName, gwID); err == nil {
		return "", cmerrors.Precondition(cmerrors.ErrDuplicated, "duplicated gwid")
	}

	gw := &cluster.Gateway{Cluster: clusterName, ID: gwID, Host: args[2], Port: port}
	c.GWIDs = insertID(c.GWIDs, gwID)

	err = r.store.Multi(ctx,
		store.Create(cluster.GWPath(clusterName, gwID), gw),
		store.Update(cluster.ClusterPath(clusterName), c, c.Version),
	)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to create %s", gw.FullName())
	}
	gw.Version = 1
	c.Version++
	r.cache.PutGW(gw)
	r.cache.PutCluster(c)

	r.audit(ctx, "gw_add", clusterName, "gateway added. %s %s", gw.FullName(), gw.Addr())
	return ReplyOK, nil
}

func (r *Registry) gwDel(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	gwID, err := parseID(args[1], "gwid")
	if err != nil {
		return "", err
	}

	c, err := r.cache.Cluster(clusterName)
	if err != nil {
		return "", err
	}
	gw, err := r.cache.GW(clusterName, gwID)
	if err != nil {
		return "", err
	}
	c.GWIDs = removeID(c.GWIDs, gwID)

	err = r.store.Multi(ctx,
		store.Delete(cluster.GWPath(clusterName, gwID), gw.Version),
		store.Update(cluster.ClusterPath(clusterName), c, c.Version),
	)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to delete %s", gw.FullName())
	}
	c.Version++
	r.cache.DeleteGW(clusterName, gwID)
	r.cache.PutCluster(c)

	r.audit(ctx, "gw_del", clusterName, "gateway deleted. %s", gw.FullName())
	return ReplyOK, nil
}
