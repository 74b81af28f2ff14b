// Package lock implements the hierarchical read/write locks that serialize
// cluster-mutating commands.
//
// Nodes mirror the metadata store layout (root, cluster, pg list, pg, pgs
// list, pgs, gw list, gw). Every caller acquires in that fixed top-down order
// with ids ascending inside a level, which rules out lock-order deadlocks
// between commands with overlapping subtrees.
package lock

import (
	"sort"
	"sync"
	"time"

	"github.com/otheng03/nbase-arc/internal/metrics"
)

// Resolver expands wildcard requests into the ids present at acquire time.
type Resolver interface {
	PGIDs(cluster string) []int
	PGSIDs(cluster string, pgID int) []int
	GWIDs(cluster string) []int
}

type Manager struct {
	resolver Resolver

	mu    sync.Mutex
	nodes map[string]*node
}

// node is dropped from the map once no holder or waiter references it, so
// paths of deleted entities do not accumulate.
type node struct {
	sync.RWMutex
	refs int
}

func NewManager(r Resolver) *Manager {
	return &Manager{
		resolver: r,
		nodes:    make(map[string]*node),
	}
}

func (m *Manager) ref(path string) *node {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[path]
	if !ok {
		n = &node{}
		m.nodes[path] = n
	}
	n.refs++
	return n
}

func (m *Manager) unref(path string, n *node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n.refs--
	if n.refs == 0 && m.nodes[path] == n {
		delete(m.nodes, path)
	}
}

// size reports the number of live lock nodes.
func (m *Manager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

type heldNode struct {
	path string
	n    *node
	mode Mode
}

// Held is an acquired lock set. Release it with defer.
type Held struct {
	m     *Manager
	nodes []heldNode
	once  sync.Once
}

// Acquire blocks until every node in spec is granted.
//
// Wildcards are expanded level by level, after the list node above them is
// held, so the child set is fixed for the whole hold.
func (m *Manager) Acquire(spec *Spec) *Held {
	start := time.Now()
	h := &Held{m: m}

	var pgIDs []int
	for l := levelRoot; l < numLevels; l++ {
		r := spec.reqs[l]
		if !r.set {
			continue
		}

		ids := m.resolve(spec, l, r.id, pgIDs)
		if l == levelPG {
			pgIDs = ids
		}

		for _, id := range ids {
			path := nodePath(l, spec.cluster, id)
			n := m.ref(path)
			if r.mode == Write {
				n.Lock()
			} else {
				n.RLock()
			}
			h.nodes = append(h.nodes, heldNode{path: path, n: n, mode: r.mode})
		}
	}

	metrics.RecordLockWait(time.Since(start))
	return h
}

func (m *Manager) resolve(spec *Spec, l level, id int, pgIDs []int) []int {
	switch l {
	case levelPG:
		if id == All {
			return m.resolver.PGIDs(spec.cluster)
		}
	case levelPGS:
		if id == AllInPG || id == All {
			var ids []int
			for _, pg := range pgIDs {
				ids = append(ids, m.resolver.PGSIDs(spec.cluster, pg)...)
			}
			return uniqueSorted(ids)
		}
	case levelGW:
		if id == All {
			return m.resolver.GWIDs(spec.cluster)
		}
	default:
		return []int{0}
	}
	return []int{id}
}

func uniqueSorted(ids []int) []int {
	sort.Ints(ids)
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// Paths lists the held node paths in acquisition order.
func (h *Held) Paths() []string {
	paths := make([]string, len(h.nodes))
	for i, n := range h.nodes {
		paths[i] = n.path + ":" + n.mode.String()
	}
	return paths
}

// Release unlocks in reverse acquisition order. It is safe to call twice.
func (h *Held) Release() {
	h.once.Do(func() {
		for i := len(h.nodes) - 1; i >= 0; i-- {
			hn := h.nodes[i]
			if hn.mode == Write {
				hn.n.Unlock()
			} else {
				hn.n.RUnlock()
			}
			h.m.unref(hn.path, hn.n)
		}
		metrics.RecordLockRelease()
	})
}
