// Package probe talks to replica processes: the replicator's management port
// (role, sequence log, role commands) and the redis data port (liveness).
//
// Both speak one-line text commands and answer with a single status line.
package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otheng03/nbase-arc/internal/cluster"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// SeqLog is the replication log range reported by a replicator.
type SeqLog struct {
	Min       int64 `json:"min"`
	Committed int64 `json:"commit"`
	Max       int64 `json:"max"`
	BeSent    int64 `json:"be_sent"`
}

func (l SeqLog) String() string {
	return fmt.Sprintf("min:%d commit:%d max:%d be_sent:%d", l.Min, l.Committed, l.Max, l.BeSent)
}

// ParseSeqLog parses "+OK log min:<n> commit:<n> max:<n> be_sent:<n>".
func ParseSeqLog(reply string) (SeqLog, error) {
	var l SeqLog

	fields := strings.Fields(strings.TrimPrefix(reply, "+"))
	if len(fields) < 2 || fields[0] != "OK" || fields[1] != "log" {
		return l, fmt.Errorf("%w: %q", cmerrors.ErrUnexpectedReply, reply)
	}

	seen := 0
	for _, f := range fields[2:] {
		k, v, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return l, fmt.Errorf("%w: %q", cmerrors.ErrUnexpectedReply, reply)
		}
		switch k {
		case "min":
			l.Min = n
		case "commit":
			l.Committed = n
		case "max":
			l.Max = n
		case "be_sent":
			l.BeSent = n
		default:
			continue
		}
		seen++
	}
	if seen < 3 {
		return l, fmt.Errorf("%w: %q", cmerrors.ErrUnexpectedReply, reply)
	}
	return l, nil
}

// Replicator role codes in "+OK <role> <ts>" ping replies.
const (
	codeNone   = 0
	codeLconn  = 1
	codeMaster = 2
	codeSlave  = 3
)

// ParseRole parses a replicator ping reply.
func ParseRole(reply string) (cluster.Role, error) {
	fields := strings.Fields(strings.TrimPrefix(reply, "+"))
	if len(fields) < 2 || fields[0] != "OK" {
		return cluster.RoleNone, fmt.Errorf("%w: %q", cmerrors.ErrUnexpectedReply, reply)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return cluster.RoleNone, fmt.Errorf("%w: %q", cmerrors.ErrUnexpectedReply, reply)
	}
	switch code {
	case codeNone:
		return cluster.RoleNone, nil
	case codeLconn:
		return cluster.RoleLconn, nil
	case codeMaster:
		return cluster.RoleMaster, nil
	case codeSlave:
		return cluster.RoleSlave, nil
	}
	return cluster.RoleNone, fmt.Errorf("%w: role code %d", cmerrors.ErrUnexpectedReply, code)
}

// RoleCode is the wire code for r.
func RoleCode(r cluster.Role) int {
	switch r {
	case cluster.RoleLconn:
		return codeLconn
	case cluster.RoleMaster:
		return codeMaster
	case cluster.RoleSlave:
		return codeSlave
	}
	return codeNone
}

// Prober queries and instructs replicas. Every call is bounded by ctx.
type Prober interface {
	// Ping checks the redis data port answers +PONG.
	Ping(ctx context.Context, rs *cluster.RedisServer) error
	// SeqLog returns the replication log range of the replicator.
	SeqLog(ctx context.Context, s *cluster.PartitionGroupServer) (SeqLog, error)
	// Role returns the role the replicator currently holds.
	Role(ctx context.Context, s *cluster.PartitionGroupServer) (cluster.Role, error)

	BecomeMaster(ctx context.Context, s *cluster.PartitionGroupServer, quorum int, cseq int64) error
	BecomeSlave(ctx context.Context, s, master *cluster.PartitionGroupServer, cseq int64) error
	BecomeLconn(ctx context.Context, s *cluster.PartitionGroupServer) error
	SetQuorum(ctx context.Context, master *cluster.PartitionGroupServer, quorum int) error
}
