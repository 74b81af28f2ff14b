package workflow

import (
	"context"
	"time"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/worklog"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// activeQuorum is the quorum the master should enforce: the configured
// quorum less the members that cannot acknowledge, kept within [0, copy-1].
func activeQuorum(pg *cluster.PartitionGroup, members []*cluster.PartitionGroupServer) int {
	return clampQuorum(pg.Quorum-pg.D(members), pg.Copy)
}

// clampQuorum keeps q within [0, copy-1]. An empty group holds quorum 0 and
// is the one case exempt from quorum < copy.
func clampQuorum(q, copy int) int {
	if q > copy-1 {
		q = copy - 1
	}
	if q < 0 {
		q = 0
	}
	return q
}

func (e *Engine) quorumAdjustment(ctx context.Context, ref Ref) (*Outcome, error) {
	return e.adjustQuorum(ctx, QuorumAdjustment, ref, func(pg *cluster.PartitionGroup) (int, error) {
		return clampQuorum(pg.Quorum, pg.Copy), nil
	})
}

// IncreaseQuorum raises the configured quorum by one.
func (e *Engine) IncreaseQuorum(ctx context.Context, ref Ref) (*Outcome, error) {
	start := time.Now()
	out, err := e.adjustQuorum(ctx, QuorumAdjustment, ref, stepQuorum(1))
	e.record(QuorumAdjustment, ref, start, err)
	return out, err
}

// DecreaseQuorum lowers the configured quorum by one.
func (e *Engine) DecreaseQuorum(ctx context.Context, ref Ref) (*Outcome, error) {
	start := time.Now()
	out, err := e.adjustQuorum(ctx, QuorumAdjustment, ref, stepQuorum(-1))
	e.record(QuorumAdjustment, ref, start, err)
	return out, err
}

// ResizeQuorum follows a membership change of delta members. The configured
// quorum moves with copy, so a distance from copy-1 set by pg_dq is kept.
func (e *Engine) ResizeQuorum(ctx context.Context, ref Ref, delta int) (*Outcome, error) {
	start := time.Now()
	out, err := e.adjustQuorum(ctx, QuorumAdjustment, ref, func(pg *cluster.PartitionGroup) (int, error) {
		return clampQuorum(pg.Quorum+delta, pg.Copy), nil
	})
	e.record(QuorumAdjustment, ref, start, err)
	return out, err
}

func stepQuorum(delta int) func(pg *cluster.PartitionGroup) (int, error) {
	return func(pg *cluster.PartitionGroup) (int, error) {
		q := pg.Quorum + delta
		if q < 0 || q >= pg.Copy {
			return 0, cmerrors.Precondition(cmerrors.ErrQuorumRange,
				"invalid quorum. %s quorum:%d copy:%d", pg.FullName(), q, pg.Copy)
		}
		return q, nil
	}
}

// adjustQuorum sets the configured quorum chosen by target, recomputes the
// active quorum and pushes it to the healthy master. The new values are
// committed only after the master accepted them.
func (e *Engine) adjustQuorum(ctx context.Context, kind Kind, ref Ref,
	target func(pg *cluster.PartitionGroup) (int, error)) (*Outcome, error) {

	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	out := newOutcome(kind)

	quorum, err := target(pg)
	if err != nil {
		return nil, err
	}

	prev := pg.Clone()
	pg.Quorum = quorum
	pg.ActiveQuorum = activeQuorum(pg, members)

	master := cluster.HealthyMaster(members)
	if master != nil {
		out.Master = master.ID
	}

	if pg.Quorum == prev.Quorum && pg.ActiveQuorum == prev.ActiveQuorum {
		return out, nil
	}

	if master != nil && pg.ActiveQuorum != prev.ActiveQuorum {
		cctx, cancel := e.withTimeout(ctx)
		err := e.prober.SetQuorum(cctx, master, pg.ActiveQuorum)
		cancel()
		if err != nil {
			return nil, cmerrors.Infrastructure(err, "failed to set quorum. %s", master.FullName())
		}
	}

	if err := e.commit(ctx, pg); err != nil {
		return nil, err
	}
	out.Changed = true

	e.logger.Info("quorum adjusted", "pg", pg.FullName(),
		"quorum", pg.Quorum, "active", pg.ActiveQuorum, "prevQuorum", prev.Quorum, "prevActive", prev.ActiveQuorum)
	e.audit(ctx, worklog.SeverityInfo, kind.String(), pg.Cluster,
		"%s quorum:%d->%d active:%d->%d", pg.FullName(), prev.Quorum, pg.Quorum, prev.ActiveQuorum, pg.ActiveQuorum)
	return out, nil
}
