// Package command implements the confmaster administrative commands.
//
// Every command is registered with its handler and the lock spec that must be
// held while the handler runs. Replies are "+OK", a JSON document, or
// "-ERR <reason>".
package command

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/otheng03/nbase-arc/internal/cluster/state"
	"github.com/otheng03/nbase-arc/internal/lock"
	"github.com/otheng03/nbase-arc/internal/metrics"
	"github.com/otheng03/nbase-arc/internal/store"
	"github.com/otheng03/nbase-arc/internal/workflow"
	"github.com/otheng03/nbase-arc/internal/worklog"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// ReplyOK is the reply of commands without a payload.
const ReplyOK = "+OK"

// Handler runs a command with the arguments following its name.
type Handler func(ctx context.Context, args []string) (string, error)

// LockBuilder derives the lock spec of one invocation from its arguments.
type LockBuilder func(args []string) (*lock.Spec, error)

type Command struct {
	Name  string
	Usage string
	// Arity counts the command name like redis does: n is exact, -n is at
	// least n.
	Arity int
	// Lock is nil for commands that read nothing shared.
	Lock LockBuilder
	Run  Handler
}

func (c *Command) arityOK(nargs int) bool {
	n := nargs + 1
	if c.Arity < 0 {
		return n >= -c.Arity
	}
	return n == c.Arity
}

// GatewayNotifier reaches the gateways of a cluster.
type GatewayNotifier interface {
	CheckAlive(ctx context.Context, cluster string) error
	Notify(ctx context.Context, cluster, request string) error
}

type Deps struct {
	Cache    *state.Cache
	Store    store.Store
	Locks    *lock.Manager
	Engine   *workflow.Engine
	Gateways GatewayNotifier
	WorkLog  *worklog.Log
	Logger   logr.Logger
}

type Registry struct {
	cache    *state.Cache
	store    store.Store
	locks    *lock.Manager
	engine   *workflow.Engine
	gateways GatewayNotifier
	worklog  *worklog.Log
	logger   logr.Logger

	commands map[string]*Command
}

func New(d Deps) *Registry {
	r := &Registry{
		cache:    d.Cache,
		store:    d.Store,
		locks:    d.Locks,
		engine:   d.Engine,
		gateways: d.Gateways,
		worklog:  d.WorkLog,
		logger:   d.Logger.WithName("command"),
		commands: make(map[string]*Command),
	}
	r.registerAll()
	return r
}

func (r *Registry) registerAll() {
	r.register(&Command{Name: "ping", Usage: "ping", Arity: 1, Run: r.ping})
	r.register(&Command{Name: "help", Usage: "help [command]", Arity: -1, Run: r.help})

	r.register(&Command{Name: "cluster_add", Usage: "cluster_add <cluster>", Arity: 2, Lock: clusterAddLock, Run: r.clusterAdd})
	r.register(&Command{Name: "cluster_del", Usage: "cluster_del <cluster>", Arity: 2, Lock: clusterDelLock, Run: r.clusterDel})

	r.register(&Command{Name: "pg_add", Usage: "pg_add <cluster> <pgid>", Arity: 3, Lock: pgAddLock, Run: r.pgAdd})
	r.register(&Command{Name: "pg_del", Usage: "pg_del <cluster> <pgid>", Arity: 3, Lock: pgDelLock, Run: r.pgDel})
	r.register(&Command{Name: "pg_info", Usage: "pg_info <cluster> <pgid>", Arity: 3, Lock: pgInfoLock, Run: r.pgInfo})
	r.register(&Command{Name: "pg_ls", Usage: "pg_ls <cluster>", Arity: 2, Lock: pgLsLock, Run: r.pgLs})
	r.register(&Command{Name: "pg_iq", Usage: "pg_iq <cluster> <pgid>", Arity: 3, Lock: quorumLock, Run: r.pgIncreaseQuorum})
	r.register(&Command{Name: "pg_dq", Usage: "pg_dq <cluster> <pgid>", Arity: 3, Lock: quorumLock, Run: r.pgDecreaseQuorum})

	r.register(&Command{Name: "pgs_add", Usage: "pgs_add <cluster> <pgsid> <pgid> <ip> <base_port> <redis_port>", Arity: 7, Lock: pgsAddLock, Run: r.pgsAdd})
	r.register(&Command{Name: "pgs_del", Usage: "pgs_del <cluster> <pgsid>", Arity: 3, Lock: r.pgsMemberLock, Run: r.pgsDel})
	r.register(&Command{Name: "pgs_join", Usage: "pgs_join <cluster> <pgsid>", Arity: 3, Lock: r.pgsMemberLock, Run: r.pgsJoin})
	r.register(&Command{Name: "pgs_leave", Usage: "pgs_leave <cluster> <pgsid> [forced]", Arity: -3, Lock: r.pgsMemberLock, Run: r.pgsLeave})

	r.register(&Command{Name: "gw_add", Usage: "gw_add <cluster> <gwid> <ip> <port>", Arity: 5, Lock: gwLock, Run: r.gwAdd})
	r.register(&Command{Name: "gw_del", Usage: "gw_del <cluster> <gwid>", Arity: 3, Lock: gwLock, Run: r.gwDel})

	r.register(&Command{Name: "role_change", Usage: "role_change <cluster> <pgsid>", Arity: 3, Lock: r.roleChangeLock, Run: r.roleChange})
	r.register(&Command{Name: "op_wf", Usage: "op_wf <cluster> <pgid> <RA|QA|ME|YJ|BJ|MG> <cascading> forced", Arity: 6, Lock: opWfLock, Run: r.opWf})
}

func (r *Registry) register(c *Command) {
	if _, ok := r.commands[c.Name]; ok {
		panic("command registered twice: " + c.Name)
	}
	r.commands[c.Name] = c
}

// Lookup returns the command registered under name, or nil.
func (r *Registry) Lookup(name string) *Command {
	return r.commands[strings.ToLower(name)]
}

// Names lists the registered commands in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one command line and renders its reply.
func (r *Registry) Execute(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return errorReply(cmerrors.ErrUnknownCommand)
	}

	c := r.Lookup(args[0])
	if c == nil {
		return "-ERR unknown command '" + args[0] + "'"
	}

	start := time.Now()
	reply, err := r.execute(ctx, c, args[1:])
	metrics.RecordCommand(c.Name, time.Since(start), err == nil)

	if err != nil {
		r.logger.Info("command failed", "cmd", c.Name, "args", args[1:], "kind", cmerrors.KindOf(err).String(), "err", err.Error())
		return errorReply(err)
	}
	r.logger.V(1).Info("command done", "cmd", c.Name, "args", args[1:], "elapsed", time.Since(start))
	return reply
}

func (r *Registry) execute(ctx context.Context, c *Command, args []string) (string, error) {
	if !c.arityOK(len(args)) {
		return "", cmerrors.Precondition(cmerrors.ErrInvalidArgs, "wrong number of arguments. usage: %s", c.Usage)
	}

	if c.Lock != nil {
		spec, err := c.Lock(args)
		if err != nil {
			return "", err
		}
		held := r.locks.Acquire(spec)
		defer held.Release()
	}

	return c.Run(ctx, args)
}

func errorReply(err error) string {
	return "-ERR " + err.Error()
}

func jsonReply(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", cmerrors.Infrastructure(err, "failed to encode reply")
	}
	return string(b), nil
}

func parseID(s, what string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, cmerrors.Precondition(cmerrors.ErrInvalidArgs, "invalid %s. %s", what, s)
	}
	return id, nil
}

func parsePort(s, what string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, cmerrors.Precondition(cmerrors.ErrInvalidArgs, "invalid %s. %s", what, s)
	}
	return p, nil
}

func (r *Registry) audit(ctx context.Context, cmd, clusterName, format string, args ...interface{}) {
	if r.worklog == nil {
		return
	}
	r.worklog.Append(ctx, worklog.SeverityInfo, cmd, clusterName, format, args...)
}

func (r *Registry) ping(ctx context.Context, args []string) (string, error) {
	return "+PONG", nil
}

func (r *Registry) help(ctx context.Context, args []string) (string, error) {
	if len(args) > 0 {
		c := r.Lookup(args[0])
		if c == nil {
			return "", cmerrors.Precondition(cmerrors.ErrUnknownCommand, "unknown command '%s'", args[0])
		}
		return c.Usage, nil
	}

	usages := make([]string, 0, len(r.commands))
	for _, name := range r.Names() {
		usages = append(usages, r.commands[name].Usage)
	}
	return strings.Join(usages, "\n"), nil
}
