package workflow

import (
	"context"

	"github.com/otheng03/nbase-arc/internal/cluster"
)

// roleAdjustment reconciles member records with what the replicas report.
//
// A GREEN member that does not answer is flagged BLUE with its role kept.
// A GREEN LCONN member whose log reached the master's commit point becomes
// a slave. A GREEN slave that lost its replication link is pointed at the
// master again.
func (e *Engine) roleAdjustment(ctx context.Context, ref Ref) (*Outcome, error) {
	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	out := newOutcome(RoleAdjustment)

	var targets []*cluster.PartitionGroupServer
	for _, s := range members {
		if s.Color == cluster.ColorGreen && (s.Role.Replicating() || s.Role == cluster.RoleLconn) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return out, nil
	}

	live := e.roles(ctx, targets)
	master := cluster.HealthyMaster(members)

	var changed []*cluster.PartitionGroupServer
	var lconns, drifted []*cluster.PartitionGroupServer
	for _, s := range targets {
		r := live[s.ID]
		if r.err != nil {
			out.failf("%s is unreachable: %v", s.FullName(), r.err)
			s.Color = cluster.ColorBlue
			changed = append(changed, s)
			if master != nil && master.ID == s.ID {
				master = nil
			}
			continue
		}
		switch {
		case s.Role == cluster.RoleLconn:
			lconns = append(lconns, s)
		case s.Role == cluster.RoleSlave && r.role != cluster.RoleSlave:
			drifted = append(drifted, s)
		}
	}

	if len(lconns) > 0 {
		changed = append(changed, e.catchUp(ctx, out, master, lconns)...)
	}

	if master != nil && len(drifted) > 0 {
		logs := e.seqLogs(ctx, drifted)
		for _, s := range drifted {
			r := logs[s.ID]
			if r.err != nil {
				out.failf("%s is unreachable: %v", s.FullName(), r.err)
				continue
			}
			cctx, cancel := e.withTimeout(ctx)
			if err := e.prober.BecomeSlave(cctx, s, master, r.log.Max); err != nil {
				out.failf("role slave %s: %v", s.FullName(), err)
			}
			cancel()
		}
	}

	if master != nil {
		out.Master = master.ID
	}
	if len(changed) == 0 {
		return out, nil
	}

	if err := e.commit(ctx, nil, changed...); err != nil {
		return nil, err
	}
	out.Changed = true

	for _, s := range changed {
		e.logger.Info("role adjusted", "pgs", s.FullName(), "role", s.Role.String(), "color", s.Color.String())
	}
	e.refreshAffinity(ctx, pg.Cluster, out)
	return out, nil
}

// catchUp turns caught-up LCONN members into slaves and returns them.
func (e *Engine) catchUp(ctx context.Context, out *Outcome, master *cluster.PartitionGroupServer,
	lconns []*cluster.PartitionGroupServer) []*cluster.PartitionGroupServer {

	probeSet := lconns
	if master != nil {
		probeSet = append(append([]*cluster.PartitionGroupServer(nil), lconns...), master)
	}
	logs := e.seqLogs(ctx, probeSet)

	var threshold int64
	if master != nil {
		r := logs[master.ID]
		if r.err != nil {
			out.failf("%s is unreachable: %v", master.FullName(), r.err)
			return nil
		}
		threshold = r.log.Committed
	}

	var promoted []*cluster.PartitionGroupServer
	for _, s := range lconns {
		r := logs[s.ID]
		if r.err != nil {
			out.failf("%s is unreachable: %v", s.FullName(), r.err)
			continue
		}
		if r.log.Max < threshold {
			continue
		}
		if master != nil {
			cctx, cancel := e.withTimeout(ctx)
			err := e.prober.BecomeSlave(cctx, s, master, r.log.Max)
			cancel()
			if err != nil {
				out.failf("role slave %s: %v", s.FullName(), err)
				continue
			}
		}
		s.Role = cluster.RoleSlave
		promoted = append(promoted, s)
	}
	return promoted
}
