// Package httpapi exposes a read-only JSON view of the cluster metadata and
// the prometheus scrape endpoint.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/otheng03/nbase-arc/internal/cluster/state"
	"github.com/otheng03/nbase-arc/internal/worklog"
)

// Executor runs a command line under the command's locks.
type Executor interface {
	Execute(ctx context.Context, args []string) string
}

type API struct {
	executor Executor
	cache    *state.Cache
	worklog  *worklog.Log
	metrics  http.Handler
	engine   *gin.Engine
}

// New builds the router. metrics may be nil to leave /metrics unmounted.
func New(executor Executor, cache *state.Cache, wl *worklog.Log, metrics http.Handler) *API {
	gin.SetMode(gin.ReleaseMode)

	a := &API{
		executor: executor,
		cache:    cache,
		worklog:  wl,
		metrics:  metrics,
		engine:   gin.New(),
	}
	a.engine.Use(gin.Recovery())
	a.register()
	return a
}

func (a *API) Handler() http.Handler {
	return a.engine
}

func (a *API) register() {
	r := a.engine

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/clusters", a.listClusters)
	r.GET("/clusters/:cluster/pgs", a.command("pg_ls", "cluster"))
	r.GET("/clusters/:cluster/pgs/:pg", a.command("pg_info", "cluster", "pg"))
	r.GET("/clusters/:cluster/pgs/:pg/members", a.members)
	r.GET("/worklog", a.listWorkLog)

	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics))
	}
}

func (a *API) listClusters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"list": a.cache.ClusterNames()})
}

// command answers with the JSON reply of a read command built from the
// named path parameters.
func (a *API) command(name string, params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		args := []string{name}
		for _, p := range params {
			args = append(args, c.Param(p))
		}

		reply := a.executor.Execute(c.Request.Context(), args)
		if strings.HasPrefix(reply, "-") {
			c.JSON(statusOf(reply), gin.H{"error": strings.TrimPrefix(reply, "-ERR ")})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(reply))
	}
}

func (a *API) members(c *gin.Context) {
	pgID, err := strconv.Atoi(c.Param("pg"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pgid. " + c.Param("pg")})
		return
	}
	pg, err := a.cache.PG(c.Param("cluster"), pgID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	type member struct {
		ID    int    `json:"pgs_ID"`
		Role  string `json:"role"`
		Color string `json:"color"`
		Addr  string `json:"addr"`
	}
	out := []member{}
	for _, s := range a.cache.Members(pg) {
		out = append(out, member{ID: s.ID, Role: s.Role.String(), Color: s.Color.String(), Addr: s.SMRAddr()})
	}
	c.JSON(http.StatusOK, gin.H{"list": out})
}

func (a *API) listWorkLog(c *gin.Context) {
	entries, err := a.worklog.Entries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []worklog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"list": entries})
}

func statusOf(reply string) int {
	switch {
	case strings.Contains(reply, "does not exist"):
		return http.StatusNotFound
	case strings.Contains(reply, "invalid"), strings.Contains(reply, "wrong number"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
