package cluster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionGroup_AddRemoveMember(t *testing.T) {
	pg := &PartitionGroup{Cluster: "c", ID: 0, Quorum: 1, ActiveQuorum: 1}

	pg.AddMember(2)
	pg.AddMember(0)
	pg.AddMember(1)
	pg.AddMember(1)

	assert.Equal(t, []int{0, 1, 2}, pg.Members)
	assert.Equal(t, 3, pg.Copy)

	pg.RemoveMember(1)
	assert.Equal(t, []int{0, 2}, pg.Members)
	assert.Equal(t, 2, pg.Copy)

	pg.RemoveMember(0)
	pg.RemoveMember(2)
	assert.Empty(t, pg.Members)
	assert.Equal(t, 0, pg.Copy)

	// Membership never touches the quorum.
	assert.Equal(t, 1, pg.Quorum)
	assert.Equal(t, 1, pg.ActiveQuorum)
}

func TestPartitionGroup_D(t *testing.T) {
	members := []*PartitionGroupServer{
		{ID: 0, Role: RoleMaster, Color: ColorGreen},
		{ID: 1, Role: RoleSlave, Color: ColorGreen},
		{ID: 2, Role: RoleSlave, Color: ColorRed},
		{ID: 3, Role: RoleLconn, Color: ColorGreen},
		{ID: 4, Role: RoleSlave, Color: ColorBlue},
	}
	pg := &PartitionGroup{}

	assert.Equal(t, 3, pg.D(members))
	assert.Equal(t, 0, HealthyMaster(members).ID)
	assert.Len(t, Slaves(members), 1)
	assert.Len(t, Replicas(members), 2)
}

func TestRoleColor_JSON(t *testing.T) {
	pgs := &PartitionGroupServer{PGID: 3, Role: RoleSlave, Color: ColorBlue, Host: "127.0.0.1", SMRPort: 8103, RedisPort: 8109}

	data, err := json.Marshal(pgs)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"role":"S"`)
	assert.Contains(t, string(data), `"color":"BLUE"`)

	var decoded PartitionGroupServer
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, RoleSlave, decoded.Role)
	assert.Equal(t, ColorBlue, decoded.Color)
	assert.Equal(t, 8103, decoded.SMRPort)

	var bad PartitionGroupServer
	assert.Error(t, json.Unmarshal([]byte(`{"role":"X"}`), &bad))
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		kind    EntityKind
		cluster string
		id      int
	}{
		{ClusterPath("c1"), KindCluster, "c1", 0},
		{PGPath("c1", 7), KindPG, "c1", 7},
		{PGSPath("c1", 12), KindPGS, "c1", 12},
		{GWPath("c1", 3), KindGW, "c1", 3},
		{AffinityPath("c1"), KindUnknown, "", 0},
		{ClusterPath("c1") + "/PG/x", KindUnknown, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			kind, cluster, id := ParsePath(tt.path)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.cluster, cluster)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestFullNames(t *testing.T) {
	pgs := &PartitionGroupServer{Cluster: "test_cluster", ID: 2, PGID: 0}
	assert.Equal(t, "test_cluster/pg:0/pgs:2", pgs.FullName())

	pg := &PartitionGroup{Cluster: "test_cluster", ID: 0}
	assert.Equal(t, "test_cluster/pg:0", pg.FullName())
}
