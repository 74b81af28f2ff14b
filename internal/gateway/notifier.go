// Package gateway notifies the query-routing gateways of a cluster about
// topology changes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/cluster/state"
	"github.com/otheng03/nbase-arc/internal/metrics"
	"github.com/otheng03/nbase-arc/internal/store"
	cmerrors "github.com/otheng03/nbase-arc/pkg/errors"
)

// Requester sends one text command and returns the reply line.
type Requester interface {
	Do(ctx context.Context, addr, cmd string) (string, error)
}

// Affinity is the routing hint gateways read from the notification subtree.
type Affinity struct {
	Generation int64        `json:"gen"`
	PGs        []PGAffinity `json:"pg_list"`
	Updated    time.Time    `json:"updated"`
}

type PGAffinity struct {
	PGID      int   `json:"pg_ID"`
	MasterID  int   `json:"master_ID"`
	MasterGen int   `json:"master_Gen"`
	Slaves    []int `json:"slave_ID_List"`
}

type Notifier struct {
	client  Requester
	store   store.Store
	cache   *state.Cache
	timeout time.Duration
	logger  logr.Logger
}

func NewNotifier(client Requester, s store.Store, cache *state.Cache, timeout time.Duration, logger logr.Logger) *Notifier {
	return &Notifier{
		client:  client,
		store:   s,
		cache:   cache,
		timeout: timeout,
		logger:  logger.WithName("gateway"),
	}
}

// Broadcast sends request to every gateway in parallel and checks each reply
// starts with expect. It returns the failing gateway with the lowest id.
func (n *Notifier) Broadcast(ctx context.Context, gws []*cluster.Gateway, request, expect string) (*cluster.Gateway, error) {
	errs := make([]error, len(gws))

	var g errgroup.Group
	for i, gw := range gws {
		i, gw := i, gw
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()

			reply, err := n.client.Do(cctx, gw.Addr(), request)
			if err == nil && !strings.HasPrefix(reply, expect) {
				err = fmt.Errorf("%w: %q", cmerrors.ErrUnexpectedReply, reply)
			}
			errs[i] = err
			return nil
		})
	}
	g.Wait()

	var failed *cluster.Gateway
	var failedErr error
	for i, err := range errs {
		if err == nil {
			continue
		}
		metrics.RecordGatewayFailure()
		n.logger.Info("gateway notification failed", "gw", gws[i].FullName(), "request", request, "err", err.Error())
		if failed == nil || gws[i].ID < failed.ID {
			failed, failedErr = gws[i], err
		}
	}
	return failed, failedErr
}

// CheckAlive pings every gateway of the cluster.
func (n *Notifier) CheckAlive(ctx context.Context, clusterName string) error {
	failed, err := n.Broadcast(ctx, n.cache.Gateways(clusterName), "ping", "+PONG")
	if failed != nil {
		return cmerrors.Precondition(err, "failed to send ping command to gateway. %s", failed.FullName())
	}
	return nil
}

// Notify broadcasts request to every gateway of the cluster.
func (n *Notifier) Notify(ctx context.Context, clusterName, request string) error {
	failed, err := n.Broadcast(ctx, n.cache.Gateways(clusterName), request, "+OK")
	if failed != nil {
		return cmerrors.Infrastructure(err, "failed to send %q to gateway. %s", request, failed.FullName())
	}
	return nil
}

// RefreshAffinity rewrites the cluster's affinity record from the cache.
func (n *Notifier) RefreshAffinity(ctx context.Context, clusterName string) error {
	aff := Affinity{Updated: time.Now().UTC()}

	for _, pg := range n.cache.PGs(clusterName) {
		pa := PGAffinity{PGID: pg.ID, MasterID: -1, MasterGen: pg.MasterGen}
		for _, s := range n.cache.Members(pg) {
			switch {
			case !s.Healthy():
			case s.Role == cluster.RoleMaster:
				pa.MasterID = s.ID
			default:
				pa.Slaves = append(pa.Slaves, s.ID)
			}
		}
		aff.PGs = append(aff.PGs, pa)
	}

	path := cluster.AffinityPath(clusterName)
	var prev Affinity
	version, err := n.store.Get(ctx, path, &prev)
	switch {
	case err == nil:
		aff.Generation = prev.Generation + 1
		_, err = n.store.Update(ctx, path, &aff, version)
	case errors.Is(err, store.ErrNotFound):
		aff.Generation = 1
		_, err = n.store.Create(ctx, path, &aff)
	}
	if err != nil {
		return cmerrors.Infrastructure(err, "failed to update gateway affinity. cluster: %s", clusterName)
	}

	n.logger.V(1).Info("affinity refreshed", "cluster", clusterName, "gen", aff.Generation)
	return nil
}
