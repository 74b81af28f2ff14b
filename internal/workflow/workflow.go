// Package workflow implements the replica-group lifecycle procedures: role
// change, master election, role and quorum adjustment, and the join paths.
//
// Every workflow re-reads the partition group from the cache, probes replicas
// with a per-member timeout, commits each decision in one store transaction
// and then updates the cache. Callers hold the locks the workflow needs.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/cluster/state"
	"github.com/otheng03/nbase-arc/internal/metrics"
	"github.com/otheng03/nbase-arc/internal/probe"
	"github.com/otheng03/nbase-arc/internal/store"
	"github.com/otheng03/nbase-arc/internal/worklog"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// Kind names a workflow. The short codes are the operator-facing names.
type Kind int

const (
	RoleAdjustment Kind = iota + 1
	QuorumAdjustment
	MasterElection
	YellowJoin
	BlueJoin
	MembershipGrant
	RoleChange
	MemberLeave
)

func (k Kind) String() string {
	switch k {
	case RoleAdjustment:
		return "RA"
	case QuorumAdjustment:
		return "QA"
	case MasterElection:
		return "ME"
	case YellowJoin:
		return "YJ"
	case BlueJoin:
		return "BJ"
	case MembershipGrant:
		return "MG"
	case RoleChange:
		return "RC"
	case MemberLeave:
		return "LV"
	default:
		return "UNKNOWN"
	}
}

// ParseKind accepts the codes operators may force through op_wf.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "RA":
		return RoleAdjustment, nil
	case "QA":
		return QuorumAdjustment, nil
	case "ME":
		return MasterElection, nil
	case "YJ":
		return YellowJoin, nil
	case "BJ":
		return BlueJoin, nil
	case "MG":
		return MembershipGrant, nil
	}
	return 0, cmerrors.Precondition(cmerrors.ErrUnknownWorkflow, "not supported workflow. %s", s)
}

// followUps lists what a cascading run triggers after k changed state.
func (k Kind) followUps() []Kind {
	switch k {
	case YellowJoin, BlueJoin, MembershipGrant:
		return []Kind{RoleAdjustment, QuorumAdjustment}
	case RoleAdjustment:
		return []Kind{MasterElection, QuorumAdjustment}
	case MasterElection:
		return []Kind{RoleAdjustment, QuorumAdjustment}
	case MemberLeave:
		return []Kind{MasterElection, QuorumAdjustment}
	}
	return nil
}

// Ref identifies a partition group.
type Ref struct {
	Cluster string
	PGID    int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/pg:%d", r.Cluster, r.PGID)
}

// Outcome is the structured result of a workflow run.
type Outcome struct {
	Kind    Kind
	Changed bool

	// Master is the master PGS id after the run, or -1.
	Master int
	// RoleSlaveErrors lists members that failed to re-link to a new master.
	RoleSlaveErrors []int
	// Failures carries non-fatal problems: unreachable members, failed
	// notifications, errors of cascaded steps.
	Failures []string

	Cascaded []*Outcome
}

func newOutcome(k Kind) *Outcome {
	return &Outcome{Kind: k, Master: -1}
}

func (o *Outcome) failf(format string, args ...interface{}) {
	o.Failures = append(o.Failures, fmt.Sprintf(format, args...))
}

// AffinityRefresher pushes routing state to gateways.
type AffinityRefresher interface {
	RefreshAffinity(ctx context.Context, cluster string) error
}

type Deps struct {
	Cache    *state.Cache
	Store    store.Store
	Prober   probe.Prober
	Notifier AffinityRefresher
	WorkLog  *worklog.Log
	Logger   logr.Logger

	// ProbeTimeout bounds each replica call.
	ProbeTimeout time.Duration
	// MaxCascade bounds the number of follow-up runs of one cascading call.
	MaxCascade int
}

type Engine struct {
	cache    *state.Cache
	store    store.Store
	prober   probe.Prober
	notifier AffinityRefresher
	worklog  *worklog.Log
	logger   logr.Logger

	timeout    time.Duration
	maxCascade int
}

func New(d Deps) *Engine {
	if d.ProbeTimeout <= 0 {
		d.ProbeTimeout = 3 * time.Second
	}
	if d.MaxCascade <= 0 {
		d.MaxCascade = 8
	}
	return &Engine{
		cache:      d.Cache,
		store:      d.Store,
		prober:     d.Prober,
		notifier:   d.Notifier,
		worklog:    d.WorkLog,
		logger:     d.Logger.WithName("workflow"),
		timeout:    d.ProbeTimeout,
		maxCascade: d.MaxCascade,
	}
}

// workflow is the single execute capability every Kind dispatches to.
type workflow interface {
	execute(ctx context.Context, e *Engine, ref Ref) (*Outcome, error)
}

type workflowFunc func(e *Engine, ctx context.Context, ref Ref) (*Outcome, error)

func (f workflowFunc) execute(ctx context.Context, e *Engine, ref Ref) (*Outcome, error) {
	return f(e, ctx, ref)
}

func (k Kind) workflow() workflow {
	switch k {
	case RoleAdjustment:
		return workflowFunc((*Engine).roleAdjustment)
	case QuorumAdjustment:
		return workflowFunc((*Engine).quorumAdjustment)
	case MasterElection:
		return workflowFunc(func(e *Engine, ctx context.Context, ref Ref) (*Outcome, error) {
			return e.MasterElection(ctx, ref, -1)
		})
	case YellowJoin:
		return workflowFunc((*Engine).yellowJoin)
	case BlueJoin:
		return workflowFunc((*Engine).blueJoin)
	case MembershipGrant:
		return workflowFunc(func(e *Engine, ctx context.Context, ref Ref) (*Outcome, error) {
			return e.MembershipGrant(ctx, ref, -1)
		})
	}
	return nil
}

// Run executes one workflow and, when cascading, the follow-ups of every
// step that changed state, breadth first and bounded by MaxCascade.
func (e *Engine) Run(ctx context.Context, kind Kind, ref Ref, cascading bool) (*Outcome, error) {
	w := kind.workflow()
	if w == nil {
		return nil, cmerrors.Precondition(cmerrors.ErrUnknownWorkflow, "not supported workflow. %s", kind)
	}

	out, err := e.observe(ctx, kind, ref, w)
	if err != nil || !cascading {
		return out, err
	}
	e.cascade(ctx, ref, out)
	return out, nil
}

func (e *Engine) cascade(ctx context.Context, ref Ref, root *Outcome) {
	if !root.Changed {
		return
	}

	queue := root.Kind.followUps()
	for steps := 0; len(queue) > 0 && steps < e.maxCascade; steps++ {
		kind := queue[0]
		queue = queue[1:]

		out, err := e.observe(ctx, kind, ref, kind.workflow())
		if err != nil {
			root.failf("%s: %v", kind, err)
			continue
		}
		root.Cascaded = append(root.Cascaded, out)
		root.Failures = append(root.Failures, out.Failures...)
		if out.Changed {
			queue = append(queue, kind.followUps()...)
		}
	}
}

func (e *Engine) observe(ctx context.Context, kind Kind, ref Ref, w workflow) (*Outcome, error) {
	start := time.Now()
	out, err := w.execute(ctx, e, ref)
	e.record(kind, ref, start, err)
	return out, err
}

func (e *Engine) record(kind Kind, ref Ref, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = cmerrors.KindOf(err).String()
		e.logger.Info("workflow failed", "workflow", kind.String(), "pg", ref.String(), "err", err.Error())
	}
	metrics.RecordWorkflow(kind.String(), result, time.Since(start))
}

// load re-reads the partition group and its members under the caller's locks.
func (e *Engine) load(ref Ref) (*cluster.PartitionGroup, []*cluster.PartitionGroupServer, error) {
	pg, err := e.cache.PG(ref.Cluster, ref.PGID)
	if err != nil {
		return nil, nil, err
	}
	return pg, e.cache.Members(pg), nil
}

type seqResult struct {
	log probe.SeqLog
	err error
}

// seqLogs queries members in parallel, each bounded by the probe timeout.
func (e *Engine) seqLogs(ctx context.Context, members []*cluster.PartitionGroupServer) map[int]seqResult {
	results := make([]seqResult, len(members))

	var g errgroup.Group
	for i, s := range members {
		i, s := i, s
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			results[i].log, results[i].err = e.prober.SeqLog(cctx, s)
			return nil
		})
	}
	g.Wait()

	out := make(map[int]seqResult, len(members))
	for i, s := range members {
		out[s.ID] = results[i]
	}
	return out
}

type roleResult struct {
	role cluster.Role
	err  error
}

// roles queries the live role of members in parallel.
func (e *Engine) roles(ctx context.Context, members []*cluster.PartitionGroupServer) map[int]roleResult {
	results := make([]roleResult, len(members))

	var g errgroup.Group
	for i, s := range members {
		i, s := i, s
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			results[i].role, results[i].err = e.prober.Role(cctx, s)
			return nil
		})
	}
	g.Wait()

	out := make(map[int]roleResult, len(members))
	for i, s := range members {
		out[s.ID] = results[i]
	}
	return out
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// commit writes pg (when non-nil) and pgss in one transaction guarded by the
// cached versions, then refreshes the cache with the new versions.
func (e *Engine) commit(ctx context.Context, pg *cluster.PartitionGroup, pgss ...*cluster.PartitionGroupServer) error {
	var ops []store.Op
	if pg != nil {
		ops = append(ops, store.Update(cluster.PGPath(pg.Cluster, pg.ID), pg, pg.Version))
	}
	for _, s := range pgss {
		ops = append(ops, store.Update(cluster.PGSPath(s.Cluster, s.ID), s, s.Version))
	}
	if len(ops) == 0 {
		return nil
	}

	if err := e.store.Multi(ctx, ops...); err != nil {
		name := ""
		if pg != nil {
			name = pg.FullName()
		} else {
			name = pgss[0].FullName()
		}
		return cmerrors.Infrastructure(err, "failed to commit %s", name)
	}

	if pg != nil {
		pg.Version++
		e.cache.PutPG(pg)
	}
	for _, s := range pgss {
		s.Version++
		e.cache.PutPGS(s)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, sev worklog.Severity, typ, clusterName, format string, args ...interface{}) {
	if e.worklog == nil {
		return
	}
	e.worklog.Append(ctx, sev, typ, clusterName, format, args...)
}
