package command

import (
	"context"
	"strconv"

	"github.com/otheng03/nbase-arc/internal/workflow"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

type roleChangeReply struct {
	Master         int   `json:"master"`
	RoleSlaveError []int `json:"role_slave_error"`
}

func (r *Registry) roleChange(ctx context.Context, args []string) (string, error) {
	pgsID, pgID, err := r.pgOf(args[0], args[1])
	if err != nil {
		return "", err
	}

	ref := workflow.Ref{Cluster: args[0], PGID: pgID}
	out, err := r.engine.RoleChange(ctx, ref, pgsID)
	if err != nil {
		return "", err
	}

	reply := roleChangeReply{Master: out.Master, RoleSlaveError: out.RoleSlaveErrors}
	if reply.RoleSlaveError == nil {
		reply.RoleSlaveError = []int{}
	}
	r.audit(ctx, "role_change", ref.Cluster, "role changed. %s master:%d role_slave_error:%v", ref, out.Master, reply.RoleSlaveError)
	return jsonReply(reply)
}

// opWf runs one workflow on operator request. Only forced mode is supported.
func (r *Registry) opWf(ctx context.Context, args []string) (string, error) {
	ref, err := r.pgRef(args)
	if err != nil {
		return "", err
	}
	kind, err := workflow.ParseKind(args[2])
	if err != nil {
		return "", err
	}
	cascading, err := strconv.ParseBool(args[3])
	if err != nil {
		return "", cmerrors.Precondition(cmerrors.ErrInvalidArgs, "invalid cascading. %s", args[3])
	}
	if args[4] != "forced" {
		return "", cmerrors.Precondition(cmerrors.ErrNotForced, "op_wf supports only forced mode. %s", args[4])
	}
	if _, err := r.cache.PG(ref.Cluster, ref.PGID); err != nil {
		return "", err
	}

	out, err := r.engine.Run(ctx, kind, ref, cascading)
	if err != nil {
		return "", err
	}

	r.audit(ctx, "op_wf", ref.Cluster, "workflow %s done. %s changed:%t cascaded:%d failures:%v",
		kind, ref, out.Changed, len(out.Cascaded), out.Failures)
	return ReplyOK, nil
}
