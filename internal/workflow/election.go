package workflow

import (
	"context"

	"github.com/otheng03/nbase-arc/internal/cluster"
)

// MasterElection promotes a GREEN slave when the group has no healthy master.
// The slave with the highest committed sequence wins, ties going to the
// lowest id. hint excludes one PGS from candidacy; pass -1 for none.
func (e *Engine) MasterElection(ctx context.Context, ref Ref, hint int) (*Outcome, error) {
	pg, members, err := e.load(ref)
	if err != nil {
		return nil, err
	}

	out := newOutcome(MasterElection)
	if m := cluster.HealthyMaster(members); m != nil {
		out.Master = m.ID
		return out, nil
	}

	var candidates []*cluster.PartitionGroupServer
	for _, s := range cluster.Slaves(members) {
		if s.ID != hint {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		out.failf("%s has no master candidate", pg.FullName())
		return out, nil
	}

	logs := e.seqLogs(ctx, candidates)

	var best *cluster.PartitionGroupServer
	var bestCommit int64
	for _, s := range candidates {
		r := logs[s.ID]
		if r.err != nil {
			out.failf("%s is unreachable: %v", s.FullName(), r.err)
			continue
		}
		if best == nil || r.log.Committed > bestCommit {
			best, bestCommit = s, r.log.Committed
		}
	}
	if best == nil {
		out.failf("%s has no responsive master candidate", pg.FullName())
		return out, nil
	}

	e.logger.Info("electing master", "pg", pg.FullName(), "candidate", best.ID, "commit", bestCommit)

	promoted, err := e.promote(ctx, MasterElection, pg, members, best)
	if err != nil {
		return nil, err
	}
	promoted.Failures = append(out.Failures, promoted.Failures...)
	e.refreshAffinity(ctx, ref.Cluster, promoted)
	return promoted, nil
}
