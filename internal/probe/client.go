package probe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/metrics"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// Client implements Prober over short-lived TCP connections.
type Client struct {
	timeout time.Duration
	dialer  net.Dialer
}

func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Do sends one inline command to addr and returns the reply line without CRLF.
// The connection deadline is the earlier of ctx's deadline and the client timeout.
func (c *Client) Do(ctx context.Context, addr, cmd string) (string, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("write %q to %s: %w", cmd, addr, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", fmt.Errorf("read %q from %s: %w", cmd, addr, cmerrors.ErrTimeout)
		}
		return "", fmt.Errorf("read %q from %s: %w", cmd, addr, err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// expect runs cmd and checks the reply starts with want.
func (c *Client) expect(ctx context.Context, op, addr, cmd, want string) (string, error) {
	reply, err := c.Do(ctx, addr, cmd)
	if err != nil {
		metrics.RecordProbeFailure(op)
		return "", err
	}
	if !strings.HasPrefix(reply, want) {
		metrics.RecordProbeFailure(op)
		return reply, fmt.Errorf("%s %s: %w: %q", op, addr, cmerrors.ErrUnexpectedReply, reply)
	}
	return reply, nil
}

func (c *Client) Ping(ctx context.Context, rs *cluster.RedisServer) error {
	_, err := c.expect(ctx, "ping", rs.Addr(), "ping", "+PONG")
	return err
}

func (c *Client) SeqLog(ctx context.Context, s *cluster.PartitionGroupServer) (SeqLog, error) {
	reply, err := c.expect(ctx, "getseq", s.SMRAddr(), "getseq log", "+OK")
	if err != nil {
		return SeqLog{}, err
	}
	return ParseSeqLog(reply)
}

func (c *Client) Role(ctx context.Context, s *cluster.PartitionGroupServer) (cluster.Role, error) {
	reply, err := c.expect(ctx, "role", s.SMRAddr(), "ping", "+OK")
	if err != nil {
		return cluster.RoleNone, err
	}
	return ParseRole(reply)
}

func (c *Client) BecomeMaster(ctx context.Context, s *cluster.PartitionGroupServer, quorum int, cseq int64) error {
	cmd := fmt.Sprintf("role master %d %d %d", s.ID, quorum, cseq)
	_, err := c.expect(ctx, "role_master", s.SMRAddr(), cmd, "+OK")
	return err
}

func (c *Client) BecomeSlave(ctx context.Context, s, master *cluster.PartitionGroupServer, cseq int64) error {
	cmd := fmt.Sprintf("role slave %d %s %d %d", s.ID, master.Host, master.ReplPort, cseq)
	_, err := c.expect(ctx, "role_slave", s.SMRAddr(), cmd, "+OK")
	return err
}

func (c *Client) BecomeLconn(ctx context.Context, s *cluster.PartitionGroupServer) error {
	_, err := c.expect(ctx, "role_lconn", s.SMRAddr(), "role lconn", "+OK")
	return err
}

func (c *Client) SetQuorum(ctx context.Context, master *cluster.PartitionGroupServer, quorum int) error {
	_, err := c.expect(ctx, "setquorum", master.SMRAddr(), fmt.Sprintf("setquorum %d", quorum), "+OK")
	return err
}

var _ Prober = (*Client)(nil)
