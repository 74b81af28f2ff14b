package cluster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the replication role a PGS holds inside its partition group.
type Role int

const (
	RoleNone Role = iota
	RoleLconn
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "N"
	case RoleLconn:
		return "L"
	case RoleMaster:
		return "M"
	case RoleSlave:
		return "S"
	default:
		return "?"
	}
}

// ParseRole accepts both the short ("M") and long ("master") spellings.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(s) {
	case "N", "NONE":
		return RoleNone, nil
	case "L", "LCONN":
		return RoleLconn, nil
	case "M", "MASTER":
		return RoleMaster, nil
	case "S", "SLAVE":
		return RoleSlave, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// Replicating reports whether the role takes part in replication.
func (r Role) Replicating() bool {
	return r == RoleMaster || r == RoleSlave
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Color is the join/health phase of a PGS, orthogonal to its role.
type Color int

const (
	ColorRed Color = iota
	ColorYellow
	ColorGreen
	ColorBlue
)

func (c Color) String() string {
	switch c {
	case ColorRed:
		return "RED"
	case ColorYellow:
		return "YELLOW"
	case ColorGreen:
		return "GREEN"
	case ColorBlue:
		return "BLUE"
	default:
		return "UNKNOWN"
	}
}

func ParseColor(s string) (Color, error) {
	switch strings.ToUpper(s) {
	case "RED":
		return ColorRed, nil
	case "YELLOW":
		return ColorYellow, nil
	case "GREEN":
		return ColorGreen, nil
	case "BLUE":
		return ColorBlue, nil
	}
	return ColorRed, fmt.Errorf("unknown color %q", s)
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Color) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// PartitionGroupServer is one replica process within a partition group.
type PartitionGroupServer struct {
	Cluster   string `json:"-"`
	ID        int    `json:"-"`
	PGID      int    `json:"pg_ID"`
	Role      Role   `json:"role"`
	Color     Color  `json:"color"`
	Host      string `json:"pm_IP"`
	ReplPort  int    `json:"replication_Port"`
	SMRPort   int    `json:"management_Port"`
	RedisPort int    `json:"redis_Port"`
	Version   int64  `json:"-"`
}

// Healthy reports whether the PGS is GREEN and replicating, i.e. not counted in D.
func (s *PartitionGroupServer) Healthy() bool {
	return s.Color == ColorGreen && s.Role.Replicating()
}

// SMRAddr is the replicator management address used by the replication probe.
func (s *PartitionGroupServer) SMRAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.SMRPort)
}

// FullName renders "<cluster>/pg:<pg>/pgs:<id>".
func (s *PartitionGroupServer) FullName() string {
	return fmt.Sprintf("%s/pg:%d/pgs:%d", s.Cluster, s.PGID, s.ID)
}

func (s *PartitionGroupServer) String() string {
	return fmt.Sprintf("%s(%s,%s)", s.FullName(), s.Role, s.Color)
}

func (s *PartitionGroupServer) Clone() *PartitionGroupServer {
	c := *s
	return &c
}

// RedisServer is the data-plane process bound 1:1 to a PGS.
type RedisServer struct {
	Cluster string
	PGSID   int
	Host    string
	Port    int
}

func (r *RedisServer) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RedisServer derives the data-plane endpoint of the PGS.
func (s *PartitionGroupServer) RedisServer() *RedisServer {
	return &RedisServer{Cluster: s.Cluster, PGSID: s.ID, Host: s.Host, Port: s.RedisPort}
}

// Gateway is a query-routing proxy registered to a cluster.
type Gateway struct {
	Cluster string `json:"-"`
	ID      int    `json:"-"`
	Host    string `json:"pm_IP"`
	Port    int    `json:"port"`
	Version int64  `json:"-"`
}

func (g *Gateway) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

func (g *Gateway) FullName() string {
	return fmt.Sprintf("%s/gw:%d", g.Cluster, g.ID)
}

func (g *Gateway) Clone() *Gateway {
	c := *g
	return &c
}
