package workflow

import (
	"context"
	"errors"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/worklog"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// yellowJoin admits new members: RED+LCONN members that answer a ping turn
// YELLOW, and those whose log is not ahead of the master are granted.
func (e *Engine) yellowJoin(ctx context.Context, ref Ref) (*Outcome, error) {
	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	out := newOutcome(YellowJoin)
	master := cluster.HealthyMaster(members)
	if master != nil {
		out.Master = master.ID
	}

	for _, s := range members {
		if s.Color != cluster.ColorRed || s.Role != cluster.RoleLconn {
			continue
		}

		if err := e.ping(ctx, s); err != nil {
			out.failf("%s ping fail: %v", s.FullName(), err)
			continue
		}

		s.Color = cluster.ColorYellow
		if err := e.commit(ctx, nil, s); err != nil {
			return nil, err
		}
		out.Changed = true

		if err := e.verifyFresh(ctx, s, master); err != nil {
			out.failf("%v", err)
			if errors.Is(err, cmerrors.ErrDivergedLogs) {
				if err := e.reject(ctx, s, err); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := e.grant(ctx, s); err != nil {
			return nil, err
		}
	}

	if out.Changed {
		e.refreshAffinity(ctx, pg.Cluster, out)
	}
	return out, nil
}

// blueJoin re-admits members that were GREEN before a transient departure.
// Their membership is kept; only log continuity with the master is checked.
func (e *Engine) blueJoin(ctx context.Context, ref Ref) (*Outcome, error) {
	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	out := newOutcome(BlueJoin)
	master := cluster.HealthyMaster(members)
	if master != nil {
		out.Master = master.ID
	}

	for _, s := range members {
		if s.Color != cluster.ColorBlue {
			continue
		}

		if err := e.ping(ctx, s); err != nil {
			out.failf("%s ping fail: %v", s.FullName(), err)
			continue
		}
		if err := e.verifyContinuity(ctx, s, master); err != nil {
			out.failf("%v", err)
			continue
		}
		if err := e.grant(ctx, s); err != nil {
			return nil, err
		}
		out.Changed = true
	}

	if out.Changed {
		e.refreshAffinity(ctx, pg.Cluster, out)
	}
	return out, nil
}

// MembershipGrant makes YELLOW or BLUE members GREEN after re-checking the
// condition of their join path. With pgsID < 0 every pending member of the
// group is considered; otherwise only that member, and a failed check is
// returned as an error. Granting a GREEN member is a no-op.
func (e *Engine) MembershipGrant(ctx context.Context, ref Ref, pgsID int) (*Outcome, error) {
	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	out := newOutcome(MembershipGrant)
	master := cluster.HealthyMaster(members)
	if master != nil {
		out.Master = master.ID
	}

	targets := members
	if pgsID >= 0 {
		s := member(members, pgsID)
		if s == nil {
			return nil, cmerrors.Precondition(cmerrors.ErrPGSNotFound, "pgs does not exist. %s/pgs:%d", ref.Cluster, pgsID)
		}
		targets = []*cluster.PartitionGroupServer{s}
	}

	for _, s := range targets {
		var err error
		switch s.Color {
		case cluster.ColorGreen:
			continue
		case cluster.ColorYellow:
			err = e.verifyFresh(ctx, s, master)
		case cluster.ColorBlue:
			err = e.verifyContinuity(ctx, s, master)
		default:
			err = cmerrors.Precondition(nil, "%s has not passed the liveness check", s.FullName())
		}
		if err != nil {
			if pgsID >= 0 {
				return nil, err
			}
			if s.Color != cluster.ColorRed {
				out.failf("%v", err)
			}
			continue
		}

		if err := e.grant(ctx, s); err != nil {
			return nil, err
		}
		out.Changed = true
	}

	if out.Changed {
		e.refreshAffinity(ctx, pg.Cluster, out)
	}
	return out, nil
}

// grant is the only place a member turns GREEN.
func (e *Engine) grant(ctx context.Context, s *cluster.PartitionGroupServer) error {
	if s.Color == cluster.ColorGreen {
		return nil
	}
	from := s.Color
	s.Color = cluster.ColorGreen
	if err := e.commit(ctx, nil, s); err != nil {
		return err
	}

	e.logger.Info("membership granted", "pgs", s.FullName(), "from", from.String(), "role", s.Role.String())
	e.audit(ctx, worklog.SeverityInfo, MembershipGrant.String(), s.Cluster,
		"%s %s->GREEN role:%s", s.FullName(), from, s.Role)
	return nil
}

// reject sends a member that failed its join check back to NONE/RED. The
// operator has to clear its log before joining it again.
func (e *Engine) reject(ctx context.Context, s *cluster.PartitionGroupServer, cause error) error {
	from := s.Role
	s.Role = cluster.RoleNone
	s.Color = cluster.ColorRed
	if err := e.commit(ctx, nil, s); err != nil {
		return err
	}

	e.logger.Info("join rejected", "pgs", s.FullName(), "from", from.String(), "err", cause.Error())
	e.audit(ctx, worklog.SeverityWarn, YellowJoin.String(), s.Cluster,
		"%s join rejected. %v", s.FullName(), cause)
	return nil
}

func (e *Engine) ping(ctx context.Context, s *cluster.PartitionGroupServer) error {
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.prober.Ping(cctx, s.RedisServer())
}

// verifyFresh checks a new member's log is not ahead of the master's.
func (e *Engine) verifyFresh(ctx context.Context, s, master *cluster.PartitionGroupServer) error {
	sl, ml, err := e.compareLogs(ctx, s, master)
	if err != nil || master == nil {
		return err
	}
	if sl.log.Max > ml.log.Max {
		return cmerrors.Fencing(cmerrors.ErrDivergedLogs, "%s has diverged logs. max:%d, master max:%d", s.FullName(), sl.log.Max, ml.log.Max)
	}
	return nil
}

// verifyContinuity checks a rejoining member's log lies within the master's
// retained range, so replication can resume without a full resync.
func (e *Engine) verifyContinuity(ctx context.Context, s, master *cluster.PartitionGroupServer) error {
	if s.Role == cluster.RoleMaster && master != nil && master.ID != s.ID {
		return cmerrors.Precondition(nil, "%s conflicts with master %s", s.FullName(), master.FullName())
	}
	sl, ml, err := e.compareLogs(ctx, s, master)
	if err != nil || master == nil || master.ID == s.ID {
		return err
	}
	if sl.log.Max < ml.log.Min || sl.log.Max > ml.log.Max {
		return cmerrors.Fencing(cmerrors.ErrNoRecentLogs, "%s has no recent logs", s.FullName())
	}
	return nil
}

func (e *Engine) compareLogs(ctx context.Context, s, master *cluster.PartitionGroupServer) (seqResult, seqResult, error) {
	set := []*cluster.PartitionGroupServer{s}
	if master != nil && master.ID != s.ID {
		set = append(set, master)
	}
	logs := e.seqLogs(ctx, set)

	sl := logs[s.ID]
	if sl.err != nil {
		return sl, seqResult{}, cmerrors.Infrastructure(sl.err, "failed to get seq log. %s", s.FullName())
	}
	if master == nil || master.ID == s.ID {
		return sl, sl, nil
	}
	ml := logs[master.ID]
	if ml.err != nil {
		return sl, ml, cmerrors.Infrastructure(ml.err, "failed to get seq log. %s", master.FullName())
	}
	return sl, ml, nil
}
