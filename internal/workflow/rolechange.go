package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/worklog"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// RoleChange hands mastership of the partition group to candidateID, which
// must be a GREEN slave.
func (e *Engine) RoleChange(ctx context.Context, ref Ref, candidateID int) (*Outcome, error) {
	start := time.Now()
	out, err := e.roleChange(ctx, ref, candidateID)
	e.record(RoleChange, ref, start, err)
	return out, err
}

func (e *Engine) roleChange(ctx context.Context, ref Ref, candidateID int) (*Outcome, error) {
	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	candidate := member(members, candidateID)
	if candidate == nil {
		return nil, cmerrors.Precondition(cmerrors.ErrPGSNotFound, "pgs does not exist. %s/pgs:%d", ref.Cluster, candidateID)
	}
	if candidate.Role != cluster.RoleSlave || candidate.Color != cluster.ColorGreen {
		return nil, cmerrors.Precondition(cmerrors.ErrNotCandidate, "the candidate is not a slave and green.")
	}
	if d := pg.D(members); pg.Quorum-d <= 0 {
		return nil, cmerrors.Precondition(cmerrors.ErrQuorumRange, "not enough available pgs. PG.Q: %d, D: %d", pg.Quorum, d)
	}
	if err := e.checkReplicationPing(ctx, members); err != nil {
		return nil, err
	}

	out, err := e.promote(ctx, RoleChange, pg, members, candidate)
	e.refreshAffinity(ctx, ref.Cluster, out)
	return out, err
}

// checkReplicationPing requires the redis of every GREEN master and slave to
// answer ping. The lowest failing id is reported.
func (e *Engine) checkReplicationPing(ctx context.Context, members []*cluster.PartitionGroupServer) error {
	replicas := cluster.Replicas(members)
	failed := make([]error, len(replicas))

	var g errgroup.Group
	for i, s := range replicas {
		i, s := i, s
		g.Go(func() error {
			failed[i] = e.ping(ctx, s)
			return nil
		})
	}
	g.Wait()

	for i, s := range replicas {
		if failed[i] != nil {
			e.logger.Info("redis ping failed", "pgs", s.FullName(), "err", failed[i].Error())
			return cmerrors.Precondition(cmerrors.ErrReplicationPing, "check redis replication ping fail, %s", s.FullName())
		}
	}
	return nil
}

// promote makes candidate the master of pg.
//
// The candidate must hold every write the group may have acknowledged: its
// max sequence has to reach the highest committed sequence reported by the
// responsive GREEN replicas. Nothing is committed when that check or the
// candidate's own role command fails.
func (e *Engine) promote(ctx context.Context, kind Kind, pg *cluster.PartitionGroup,
	members []*cluster.PartitionGroupServer, candidate *cluster.PartitionGroupServer) (*Outcome, error) {

	out := newOutcome(kind)

	replicas := cluster.Replicas(members)
	logs := e.seqLogs(ctx, replicas)

	var durable int64
	for _, s := range replicas {
		if r := logs[s.ID]; r.err == nil && r.log.Committed > durable {
			durable = r.log.Committed
		}
	}

	if r, ok := logs[candidate.ID]; !ok || r.err != nil || r.log.Max < durable {
		return nil, cmerrors.Fencing(cmerrors.ErrNoRecentLogs, "%s has no recent logs", candidate.FullName())
	}
	for _, s := range replicas {
		if r := logs[s.ID]; s.ID != candidate.ID && (r.err != nil || r.log.Max < durable) {
			out.failf("%s has no recent logs", s.FullName())
		}
	}

	var prev *cluster.PartitionGroupServer
	if m := cluster.HealthyMaster(members); m != nil && m.ID != candidate.ID {
		prev = m
		cctx, cancel := e.withTimeout(ctx)
		if err := e.prober.BecomeLconn(cctx, prev); err != nil {
			out.failf("role lconn %s: %v", prev.FullName(), err)
		}
		cancel()
	}

	quorum := activeQuorum(pg, members)

	cctx, cancel := e.withTimeout(ctx)
	err := e.prober.BecomeMaster(cctx, candidate, quorum, durable)
	cancel()
	if err != nil {
		if prev != nil {
			rctx, rcancel := e.withTimeout(ctx)
			if rerr := e.prober.BecomeMaster(rctx, prev, pg.ActiveQuorum, durable); rerr != nil {
				e.logger.Error(rerr, "restore previous master", "pgs", prev.FullName())
			}
			rcancel()
		}
		return nil, cmerrors.Infrastructure(err, "failed to role master. %s", candidate.FullName())
	}

	var changed []*cluster.PartitionGroupServer
	for _, s := range members {
		switch {
		case s.ID == candidate.ID:
			s.Role = cluster.RoleMaster
		case s.Role == cluster.RoleMaster && s.Color == cluster.ColorGreen:
			s.Role = cluster.RoleSlave
		case s.Role == cluster.RoleMaster:
			s.Role = cluster.RoleLconn
		default:
			continue
		}
		changed = append(changed, s)
	}

	pg.MasterGen++
	if pg.MasterGenMap == nil {
		pg.MasterGenMap = make(map[int]int64)
	}
	pg.MasterGenMap[pg.MasterGen] = durable
	pg.ActiveQuorum = quorum

	if err := e.commit(ctx, pg, changed...); err != nil {
		return nil, err
	}
	out.Changed = true
	out.Master = candidate.ID

	out.RoleSlaveErrors = e.relink(ctx, members, candidate, durable)

	e.logger.Info("master changed", "pg", pg.FullName(), "master", candidate.ID,
		"gen", pg.MasterGen, "cseq", durable, "role_slave_error", out.RoleSlaveErrors)
	e.audit(ctx, worklog.SeverityInfo, kind.String(), pg.Cluster,
		"%s master:%d gen:%d cseq:%d role_slave_error:%v", pg.FullName(), candidate.ID, pg.MasterGen, durable, out.RoleSlaveErrors)
	return out, nil
}

// relink points every GREEN slave at master and returns the ids that failed.
func (e *Engine) relink(ctx context.Context, members []*cluster.PartitionGroupServer,
	master *cluster.PartitionGroupServer, cseq int64) []int {

	var (
		mu     sync.Mutex
		failed = []int{}
		g      errgroup.Group
	)
	for _, s := range cluster.Slaves(members) {
		s := s
		g.Go(func() error {
			cctx, cancel := e.withTimeout(ctx)
			defer cancel()
			if err := e.prober.BecomeSlave(cctx, s, master, cseq); err != nil {
				e.logger.Info("role slave failed", "pgs", s.FullName(), "err", err.Error())
				mu.Lock()
				failed = append(failed, s.ID)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	sort.Ints(failed)
	return failed
}

func (e *Engine) refreshAffinity(ctx context.Context, clusterName string, out *Outcome) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.RefreshAffinity(ctx, clusterName); err != nil {
		e.logger.Error(err, "refresh affinity", "cluster", clusterName)
		if out != nil {
			out.failf("%v", err)
		}
	}
}

func member(members []*cluster.PartitionGroupServer, id int) *cluster.PartitionGroupServer {
	for _, s := range members {
		if s.ID == id {
			return s
		}
	}
	return nil
}
