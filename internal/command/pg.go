package command

import (
	"context"
	"fmt"
	"sort"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/store"
	"github.com/otheng03/nbase-arc/internal/workflow"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

func (r *Registry) pgAdd(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	pgID, err := parseID(args[1], "pgid")
	if err != nil {
		return "", err
	}

	c, err := r.cache.Cluster(clusterName)
	if err != nil {
		return "", err
	}
	if _, err := r.cache.PG(clusterName, pgID); err == nil {
		return "", cmerrors.Precondition(cmerrors.ErrDuplicated, "duplicated pgid")
	}

	if err := r.gateways.CheckAlive(ctx, clusterName); err != nil {
		return "", err
	}

	pg := &cluster.PartitionGroup{
		Cluster:      clusterName,
		ID:           pgID,
		Members:      []int{},
		MasterGenMap: map[int]int64{},
	}
	c.PGIDs = insertID(c.PGIDs, pgID)

	err = r.store.Multi(ctx,
		store.Create(cluster.PGPath(clusterName, pgID), pg),
		store.Update(cluster.ClusterPath(clusterName), c, c.Version),
	)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to create %s", pg.FullName())
	}
	pg.Version = 1
	c.Version++
	r.cache.PutPG(pg)
	r.cache.PutCluster(c)

	if err := r.gateways.Notify(ctx, clusterName, fmt.Sprintf("pg_add %d", pgID)); err != nil {
		return "", err
	}

	r.audit(ctx, "pg_add", clusterName, "pg added. %s", pg.FullName())
	return ReplyOK, nil
}

func (r *Registry) pgDel(ctx context.Context, args []string) (string, error) {
	clusterName := args[0]
	pgID, err := parseID(args[1], "pgid")
	if err != nil {
		return "", err
	}

	c, err := r.cache.Cluster(clusterName)
	if err != nil {
		return "", err
	}
	pg, err := r.cache.PG(clusterName, pgID)
	if err != nil {
		return "", err
	}
	if len(pg.Members) > 0 {
		return "", cmerrors.Precondition(cmerrors.ErrPGNotEmpty, "the pg has a pgs or more")
	}

	if err := r.gateways.CheckAlive(ctx, clusterName); err != nil {
		return "", err
	}

	c.PGIDs = removeID(c.PGIDs, pgID)
	err = r.store.Multi(ctx,
		store.Delete(cluster.PGPath(clusterName, pgID), pg.Version),
		store.Update(cluster.ClusterPath(clusterName), c, c.Version),
	)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to delete %s", pg.FullName())
	}
	c.Version++
	r.cache.DeletePG(clusterName, pgID)
	r.cache.PutCluster(c)

	if err := r.gateways.Notify(ctx, clusterName, fmt.Sprintf("pg_del %d", pgID)); err != nil {
		return "", err
	}

	r.audit(ctx, "pg_del", clusterName, "pg deleted. %s", pg.FullName())
	return ReplyOK, nil
}

func (r *Registry) pgInfo(ctx context.Context, args []string) (string, error) {
	pgID, err := parseID(args[1], "pgid")
	if err != nil {
		return "", err
	}
	pg, err := r.cache.PG(args[0], pgID)
	if err != nil {
		return "", err
	}
	return jsonReply(pg)
}

type pgList struct {
	List []int `json:"list"`
}

func (r *Registry) pgLs(ctx context.Context, args []string) (string, error) {
	if _, err := r.cache.Cluster(args[0]); err != nil {
		return "", err
	}

	ls := pgList{List: []int{}}
	for _, pg := range r.cache.PGs(args[0]) {
		ls.List = append(ls.List, pg.ID)
	}
	return jsonReply(ls)
}

func (r *Registry) pgIncreaseQuorum(ctx context.Context, args []string) (string, error) {
	ref, err := r.pgRef(args)
	if err != nil {
		return "", err
	}
	if _, err := r.engine.IncreaseQuorum(ctx, ref); err != nil {
		return "", err
	}
	r.audit(ctx, "pg_iq", ref.Cluster, "quorum increased. %s", ref)
	return ReplyOK, nil
}

func (r *Registry) pgDecreaseQuorum(ctx context.Context, args []string) (string, error) {
	ref, err := r.pgRef(args)
	if err != nil {
		return "", err
	}
	if _, err := r.engine.DecreaseQuorum(ctx, ref); err != nil {
		return "", err
	}
	if _, err := r.engine.Run(ctx, workflow.QuorumAdjustment, ref, true); err != nil {
		return "", err
	}
	r.audit(ctx, "pg_dq", ref.Cluster, "quorum decreased. %s", ref)
	return ReplyOK, nil
}

func (r *Registry) pgRef(args []string) (workflow.Ref, error) {
	pgID, err := parseID(args[1], "pgid")
	if err != nil {
		return workflow.Ref{}, err
	}
	return workflow.Ref{Cluster: args[0], PGID: pgID}, nil
}

func insertID(ids []int, id int) []int {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	ids = append(ids, id)
	sort.Ints(ids)
	return ids
}

func removeID(ids []int, id int) []int {
	out := make([]int, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
