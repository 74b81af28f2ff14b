package workflow

import (
	"context"
	"time"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/worklog"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// Leave takes a member out of replication. The replica is told to drop to
// LCONN and its record goes back to NONE/RED, after which it may be deleted.
// The group is then re-balanced: a new master is elected when the master
// left, and the active quorum follows the smaller healthy set.
//
// When the replica cannot be demoted the call fails unless forced, so a live
// master is never left running beside a newly elected one.
func (e *Engine) Leave(ctx context.Context, ref Ref, pgsID int, forced bool) (*Outcome, error) {
	start := time.Now()
	out, err := e.leave(ctx, ref, pgsID, forced)
	e.record(MemberLeave, ref, start, err)
	if err != nil {
		return nil, err
	}
	e.cascade(ctx, ref, out)
	return out, nil
}

func (e *Engine) leave(ctx context.Context, ref Ref, pgsID int, forced bool) (*Outcome, error) {
	_, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	s := member(members, pgsID)
	if s == nil {
		return nil, cmerrors.Precondition(cmerrors.ErrPGSNotFound, "pgs does not exist. %s/pgs:%d", ref.Cluster, pgsID)
	}
	if s.Role == cluster.RoleNone {
		return nil, cmerrors.Precondition(cmerrors.ErrNotJoined, "the pgs is not joined. %s", s.FullName())
	}

	out := newOutcome(MemberLeave)

	cctx, cancel := e.withTimeout(ctx)
	err = e.prober.BecomeLconn(cctx, s)
	cancel()
	if err != nil {
		if !forced {
			return nil, cmerrors.Infrastructure(err, "failed to role lconn. %s", s.FullName())
		}
		out.failf("role lconn %s: %v", s.FullName(), err)
	}

	from := s.Role
	s.Role = cluster.RoleNone
	s.Color = cluster.ColorRed
	if err := e.commit(ctx, nil, s); err != nil {
		return nil, err
	}
	out.Changed = true

	if m := cluster.HealthyMaster(members); m != nil && m.ID != s.ID {
		out.Master = m.ID
	}

	e.logger.Info("member left", "pgs", s.FullName(), "from", from.String(), "forced", forced)
	e.audit(ctx, worklog.SeverityInfo, MemberLeave.String(), s.Cluster,
		"%s left. role:%s forced:%t", s.FullName(), from, forced)

	e.refreshAffinity(ctx, ref.Cluster, out)
	return out, nil
}
