package lock

import (
	"fmt"
	"strings"

	"github.com/otheng03/nbase-arc/internal/cluster"
)

// Mode is the access mode requested on a node.
type Mode int

const (
	Read Mode = iota + 1
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "R"
	case Write:
		return "W"
	default:
		return "?"
	}
}

// Wildcard ids.
const (
	// All requests every current child under the parent list.
	All = -1
	// AllInPG requests every current member of the PG(s) in the same spec.
	AllInPG = -2
)

// level is a position in the fixed acquisition order.
type level int

const (
	levelRoot level = iota
	levelCluster
	levelPGList
	levelPG
	levelPGSList
	levelPGS
	levelGWList
	levelGW
	numLevels
)

var levelNames = [numLevels]string{"root", "cluster", "pgList", "pg", "pgsList", "pgs", "gwList", "gw"}

func (l level) String() string { return levelNames[l] }

type request struct {
	set  bool
	mode Mode
	id   int
}

// Spec is an ordered chain of lock requests within one cluster.
//
//	lock.NewSpec("c1").Root(lock.Read).Cluster(lock.Read).PGList(lock.Write)
//
// Builder calls may come in any order; Acquire always walks levels top-down.
type Spec struct {
	cluster string
	reqs    [numLevels]request
}

func NewSpec(clusterName string) *Spec {
	return &Spec{cluster: clusterName}
}

func (s *Spec) Root(m Mode) *Spec    { return s.set(levelRoot, m, 0) }
func (s *Spec) Cluster(m Mode) *Spec { return s.set(levelCluster, m, 0) }
func (s *Spec) PGList(m Mode) *Spec  { return s.set(levelPGList, m, 0) }
func (s *Spec) PGSList(m Mode) *Spec { return s.set(levelPGSList, m, 0) }
func (s *Spec) GWList(m Mode) *Spec  { return s.set(levelGWList, m, 0) }

// PG locks one partition group, or every PG with All.
func (s *Spec) PG(m Mode, id int) *Spec { return s.set(levelPG, m, id) }

// PGS locks one server, or every member of the spec's PG with AllInPG.
func (s *Spec) PGS(m Mode, id int) *Spec { return s.set(levelPGS, m, id) }

// GW locks one gateway, or every gateway with All.
func (s *Spec) GW(m Mode, id int) *Spec { return s.set(levelGW, m, id) }

// A level requested twice keeps the stronger mode; no upgrade happens later.
func (s *Spec) set(l level, m Mode, id int) *Spec {
	r := &s.reqs[l]
	if r.set && r.mode > m {
		m = r.mode
	}
	r.set, r.mode, r.id = true, m, id
	return s
}

func (s *Spec) ClusterName() string { return s.cluster }

func (s *Spec) String() string {
	var parts []string
	for l := levelRoot; l < numLevels; l++ {
		r := s.reqs[l]
		if !r.set {
			continue
		}
		switch l {
		case levelPG, levelPGS, levelGW:
			parts = append(parts, fmt.Sprintf("%s(%s,%s)", l, r.mode, idString(r.id)))
		default:
			parts = append(parts, fmt.Sprintf("%s(%s)", l, r.mode))
		}
	}
	return s.cluster + ":" + strings.Join(parts, ",")
}

func idString(id int) string {
	switch id {
	case All:
		return "ALL"
	case AllInPG:
		return "ALL_IN_PG"
	}
	return fmt.Sprint(id)
}

func nodePath(l level, clusterName string, id int) string {
	switch l {
	case levelRoot:
		return cluster.RootPath
	case levelCluster:
		return cluster.ClusterPath(clusterName)
	case levelPGList:
		return cluster.ClusterPath(clusterName) + "/PG"
	case levelPG:
		return cluster.PGPath(clusterName, id)
	case levelPGSList:
		return cluster.ClusterPath(clusterName) + "/PGS"
	case levelPGS:
		return cluster.PGSPath(clusterName, id)
	case levelGWList:
		return cluster.ClusterPath(clusterName) + "/GW"
	case levelGW:
		return cluster.GWPath(clusterName, id)
	}
	return ""
}
