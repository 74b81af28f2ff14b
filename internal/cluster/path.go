package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata store layout.
const (
	RootPath         = "/RC"
	ClusterRoot      = RootPath + "/CLUSTER"
	NotificationRoot = RootPath + "/NOTIFICATION/CLUSTER"
	WorkflowLogRoot  = RootPath + "/WORKFLOW_LOG"
)

func ClusterPath(cluster string) string {
	return ClusterRoot + "/" + cluster
}

func PGPath(cluster string, pgID int) string {
	return fmt.Sprintf("%s/PG/%d", ClusterPath(cluster), pgID)
}

func PGSPath(cluster string, pgsID int) string {
	return fmt.Sprintf("%s/PGS/%d", ClusterPath(cluster), pgsID)
}

func GWPath(cluster string, gwID int) string {
	return fmt.Sprintf("%s/GW/%d", ClusterPath(cluster), gwID)
}

func AffinityPath(cluster string) string {
	return NotificationRoot + "/" + cluster + "/AFFINITY"
}

// EntityKind names what a store path refers to.
type EntityKind int

const (
	KindUnknown EntityKind = iota
	KindCluster
	KindPG
	KindPGS
	KindGW
)

// ParsePath splits a path under ClusterRoot into its entity kind, cluster name and id.
func ParsePath(path string) (kind EntityKind, cluster string, id int) {
	rest, ok := strings.CutPrefix(path, ClusterRoot+"/")
	if !ok || rest == "" {
		return KindUnknown, "", 0
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return KindCluster, parts[0], 0
	case 3:
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return KindUnknown, "", 0
		}
		switch parts[1] {
		case "PG":
			return KindPG, parts[0], n
		case "PGS":
			return KindPGS, parts[0], n
		case "GW":
			return KindGW, parts[0], n
		}
	}
	return KindUnknown, "", 0
}
