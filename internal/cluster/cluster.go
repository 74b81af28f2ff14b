package cluster

import (
	"fmt"
	"sort"
)

// Cluster owns the ordered id sets of its partition groups and gateways.
type Cluster struct {
	Name    string `json:"-"`
	PGIDs   []int  `json:"pg_ID_List"`
	GWIDs   []int  `json:"gw_ID_List"`
	Version int64  `json:"-"`
}

func (c *Cluster) FullName() string {
	return c.Name
}

func (c *Cluster) Clone() *Cluster {
	n := *c
	n.PGIDs = append([]int(nil), c.PGIDs...)
	n.GWIDs = append([]int(nil), c.GWIDs...)
	return &n
}

// PartitionGroup is a quorum-replicated shard.
type PartitionGroup struct {
	Cluster string `json:"-"`
	ID      int    `json:"-"`

	// Copy is the target replica count and Quorum the configured number of
	// slave acknowledgements required for durability. ActiveQuorum is what the
	// master currently enforces (Quorum minus D).
	Copy         int `json:"copy"`
	Quorum       int `json:"quorum"`
	ActiveQuorum int `json:"active_quorum"`

	Members []int `json:"pgs_ID_List"`

	MasterGen    int           `json:"master_Gen"`
	MasterGenMap map[int]int64 `json:"master_Gen_Map"`

	Version int64 `json:"-"`
}

func (pg *PartitionGroup) FullName() string {
	return fmt.Sprintf("%s/pg:%d", pg.Cluster, pg.ID)
}

func (pg *PartitionGroup) String() string {
	return fmt.Sprintf("%s(copy:%d,quorum:%d,members:%v)", pg.FullName(), pg.Copy, pg.Quorum, pg.Members)
}

func (pg *PartitionGroup) Clone() *PartitionGroup {
	n := *pg
	n.Members = append([]int(nil), pg.Members...)
	if pg.MasterGenMap != nil {
		n.MasterGenMap = make(map[int]int64, len(pg.MasterGenMap))
		for k, v := range pg.MasterGenMap {
			n.MasterGenMap[k] = v
		}
	}
	return &n
}

func (pg *PartitionGroup) HasMember(pgsID int) bool {
	for _, id := range pg.Members {
		if id == pgsID {
			return true
		}
	}
	return false
}

// AddMember inserts pgsID keeping Members sorted and sets Copy to the member
// count. Quorum is left to the quorum workflow.
func (pg *PartitionGroup) AddMember(pgsID int) {
	if pg.HasMember(pgsID) {
		return
	}
	pg.Members = append(pg.Members, pgsID)
	sort.Ints(pg.Members)
	pg.Copy = len(pg.Members)
}

func (pg *PartitionGroup) RemoveMember(pgsID int) {
	out := pg.Members[:0]
	for _, id := range pg.Members {
		if id != pgsID {
			out = append(out, id)
		}
	}
	pg.Members = out
	pg.Copy = len(pg.Members)
}

// D counts members that are not GREEN with role MASTER or SLAVE.
func (pg *PartitionGroup) D(members []*PartitionGroupServer) int {
	d := 0
	for _, s := range members {
		if !s.Healthy() {
			d++
		}
	}
	return d
}

// Master returns the member holding MASTER, or nil.
func Master(members []*PartitionGroupServer) *PartitionGroupServer {
	for _, s := range members {
		if s.Role == RoleMaster {
			return s
		}
	}
	return nil
}

// HealthyMaster returns the GREEN master, or nil.
func HealthyMaster(members []*PartitionGroupServer) *PartitionGroupServer {
	for _, s := range members {
		if s.Role == RoleMaster && s.Color == ColorGreen {
			return s
		}
	}
	return nil
}

// Slaves returns the GREEN slaves.
func Slaves(members []*PartitionGroupServer) []*PartitionGroupServer {
	var out []*PartitionGroupServer
	for _, s := range members {
		if s.Role == RoleSlave && s.Color == ColorGreen {
			out = append(out, s)
		}
	}
	return out
}

// Replicas returns members that are GREEN and replicating.
func Replicas(members []*PartitionGroupServer) []*PartitionGroupServer {
	var out []*PartitionGroupServer
	for _, s := range members {
		if s.Healthy() {
			out = append(out, s)
		}
	}
	return out
}

// CountMasters counts members holding MASTER regardless of color.
func CountMasters(members []*PartitionGroupServer) int {
	n := 0
	for _, s := range members {
		if s.Role == RoleMaster {
			n++
		}
	}
	return n
}
