// Package probetest provides in-process replicas and gateways that speak the
// confmaster text protocols, for tests.
package probetest

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/probe"
)

type server struct {
	ln  net.Listener
	srv *redcon.Server
}

func listen(handler func(conn redcon.Conn, cmd redcon.Command)) (*server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	srv := redcon.NewServer(ln.Addr().String(), handler,
		func(conn redcon.Conn) bool { return true },
		func(conn redcon.Conn, err error) {},
	)
	go srv.Serve(ln)

	return &server{ln: ln, srv: srv}, nil
}

func (s *server) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *server) close() {
	s.srv.Close()
	s.ln.Close()
}

func command(cmd redcon.Command) []string {
	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = string(a)
	}
	if len(args) > 0 {
		args[0] = strings.ToLower(args[0])
	}
	return args
}

// Replica mimics one PGS: a replicator management port and a redis port.
type Replica struct {
	mu         sync.Mutex
	role       cluster.Role
	seq        probe.SeqLog
	quorum     int
	down       bool
	redisDown  bool
	rejectRole bool
	commands   []string

	smr   *server
	redis *server
}

// NewReplica starts a replica holding role NONE with an empty log.
func NewReplica() (*Replica, error) {
	r := &Replica{}

	smr, err := listen(r.handleSMR)
	if err != nil {
		return nil, err
	}
	redis, err := listen(r.handleRedis)
	if err != nil {
		smr.close()
		return nil, err
	}

	r.smr, r.redis = smr, redis
	return r, nil
}

func (r *Replica) Close() {
	r.smr.close()
	r.redis.close()
}

// PGS describes the replica as a cluster member.
func (r *Replica) PGS(clusterName string, id, pgID int) *cluster.PartitionGroupServer {
	return &cluster.PartitionGroupServer{
		Cluster:   clusterName,
		ID:        id,
		PGID:      pgID,
		Host:      "127.0.0.1",
		ReplPort:  r.smr.port(),
		SMRPort:   r.smr.port(),
		RedisPort: r.redis.port(),
	}
}

func (r *Replica) SMRPort() int   { return r.smr.port() }
func (r *Replica) RedisPort() int { return r.redis.port() }

func (r *Replica) SetRole(role cluster.Role) {
	r.mu.Lock()
	r.role = role
	r.mu.Unlock()
}

func (r *Replica) Role() cluster.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role
}

func (r *Replica) SetSeqLog(min, commit, max, beSent int64) {
	r.mu.Lock()
	r.seq = probe.SeqLog{Min: min, Committed: commit, Max: max, BeSent: beSent}
	r.mu.Unlock()
}

// SetDown makes both ports drop connections without replying.
func (r *Replica) SetDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

// SetRedisDown makes only the redis port drop connections.
func (r *Replica) SetRedisDown(down bool) {
	r.mu.Lock()
	r.redisDown = down
	r.mu.Unlock()
}

// SetRejectRole makes role and setquorum commands answer with an error.
func (r *Replica) SetRejectRole(reject bool) {
	r.mu.Lock()
	r.rejectRole = reject
	r.mu.Unlock()
}

func (r *Replica) Quorum() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quorum
}

// Commands returns the state-changing commands received so far.
func (r *Replica) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *Replica) handleSMR(conn redcon.Conn, cmd redcon.Command) {
	args := command(cmd)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.down || len(args) == 0 {
		conn.Close()
		return
	}

	switch args[0] {
	case "ping":
		conn.WriteString(fmt.Sprintf("OK %d %d", probe.RoleCode(r.role), time.Now().UnixMilli()))

	case "getseq":
		conn.WriteString("OK log " + r.seq.String())

	case "role":
		if r.rejectRole {
			conn.WriteError("ERR role change rejected")
			return
		}
		if len(args) < 2 {
			conn.WriteError("ERR bad number of token:1")
			return
		}
		role, err := cluster.ParseRole(args[1])
		if err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		if role == cluster.RoleMaster && len(args) > 3 {
			r.quorum, _ = strconv.Atoi(args[3])
		}
		r.role = role
		r.commands = append(r.commands, strings.Join(args, " "))
		conn.WriteString("OK")

	case "setquorum":
		if r.rejectRole {
			conn.WriteError("ERR setquorum rejected")
			return
		}
		if len(args) != 2 {
			conn.WriteError("ERR bad number of token")
			return
		}
		q, err := strconv.Atoi(args[1])
		if err != nil {
			conn.WriteError("ERR bad quorum")
			return
		}
		r.quorum = q
		r.commands = append(r.commands, strings.Join(args, " "))
		conn.WriteString("OK")

	default:
		conn.WriteError("ERR unsupported command")
	}
}

func (r *Replica) handleRedis(conn redcon.Conn, cmd redcon.Command) {
	args := command(cmd)

	r.mu.Lock()
	down := r.down || r.redisDown
	r.mu.Unlock()

	if down || len(args) == 0 {
		conn.Close()
		return
	}

	switch args[0] {
	case "ping":
		conn.WriteString("PONG")
	default:
		conn.WriteError("ERR unsupported command")
	}
}

// Gateway mimics a gateway admin port: "ping" answers +PONG and every other
// command is recorded and answered +OK.
type Gateway struct {
	mu       sync.Mutex
	down     bool
	fail     bool
	commands []string

	srv *server
}

func NewGateway() (*Gateway, error) {
	g := &Gateway{}
	srv, err := listen(g.handle)
	if err != nil {
		return nil, err
	}
	g.srv = srv
	return g, nil
}

func (g *Gateway) Close() { g.srv.close() }

func (g *Gateway) Gateway(clusterName string, id int) *cluster.Gateway {
	return &cluster.Gateway{Cluster: clusterName, ID: id, Host: "127.0.0.1", Port: g.srv.port()}
}

func (g *Gateway) Port() int { return g.srv.port() }

// SetDown makes the gateway drop connections without replying.
func (g *Gateway) SetDown(down bool) {
	g.mu.Lock()
	g.down = down
	g.mu.Unlock()
}

// SetFail makes non-ping commands answer with an error.
func (g *Gateway) SetFail(fail bool) {
	g.mu.Lock()
	g.fail = fail
	g.mu.Unlock()
}

func (g *Gateway) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.commands...)
}

func (g *Gateway) handle(conn redcon.Conn, cmd redcon.Command) {
	args := command(cmd)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.down || len(args) == 0 {
		conn.Close()
		return
	}

	if args[0] == "ping" {
		conn.WriteString("PONG")
		return
	}

	g.commands = append(g.commands, strings.Join(args, " "))
	if g.fail {
		conn.WriteError("ERR gateway failure")
		return
	}
	conn.WriteString("OK")
}
