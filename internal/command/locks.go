package command

import (
	"github.com/otheng03/nbase-arc/internal/lock"
)

func clusterAddLock(args []string) (*lock.Spec, error) {
	return lock.NewSpec(args[0]).Root(lock.Write), nil
}

func clusterDelLock(args []string) (*lock.Spec, error) {
	return lock.NewSpec(args[0]).Root(lock.Write).Cluster(lock.Write), nil
}

func pgAddLock(args []string) (*lock.Spec, error) {
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Write).PGSList(lock.Read).GWList(lock.Read).GW(lock.Write, lock.All), nil
}

func pgDelLock(args []string) (*lock.Spec, error) {
	id, err := parseID(args[1], "pgid")
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Write).PG(lock.Write, id).PGSList(lock.Read).GWList(lock.Read).GW(lock.Write, lock.All), nil
}

func pgInfoLock(args []string) (*lock.Spec, error) {
	id, err := parseID(args[1], "pgid")
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PGSList(lock.Read).PG(lock.Read, id), nil
}

func pgLsLock(args []string) (*lock.Spec, error) {
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PGSList(lock.Read).PG(lock.Read, lock.All), nil
}

func quorumLock(args []string) (*lock.Spec, error) {
	id, err := parseID(args[1], "pgid")
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PGSList(lock.Read).PG(lock.Write, id), nil
}

func opWfLock(args []string) (*lock.Spec, error) {
	id, err := parseID(args[1], "pgid")
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PGSList(lock.Read).PG(lock.Write, id).PGS(lock.Write, lock.AllInPG).GWList(lock.Read).GW(lock.Write, lock.All), nil
}

func pgsAddLock(args []string) (*lock.Spec, error) {
	pgsID, err := parseID(args[1], "pgsid")
	if err != nil {
		return nil, err
	}
	pgID, err := parseID(args[2], "pgid")
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PG(lock.Write, pgID).PGSList(lock.Write).PGS(lock.Write, pgsID), nil
}

func gwLock(args []string) (*lock.Spec, error) {
	id, err := parseID(args[1], "gwid")
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Write).GWList(lock.Write).GW(lock.Write, id), nil
}

// pgOf resolves the partition group a PGS belongs to.
func (r *Registry) pgOf(clusterName, pgsArg string) (pgsID, pgID int, err error) {
	pgsID, err = parseID(pgsArg, "pgsid")
	if err != nil {
		return 0, 0, err
	}
	s, err := r.cache.PGS(clusterName, pgsID)
	if err != nil {
		return pgsID, -1, err
	}
	return pgsID, s.PGID, nil
}

func (r *Registry) roleChangeLock(args []string) (*lock.Spec, error) {
	_, pgID, err := r.pgOf(args[0], args[1])
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PGSList(lock.Read).PG(lock.Write, pgID).PGS(lock.Write, lock.AllInPG).GWList(lock.Read), nil
}

func (r *Registry) pgsMemberLock(args []string) (*lock.Spec, error) {
	_, pgID, err := r.pgOf(args[0], args[1])
	if err != nil {
		return nil, err
	}
	return lock.NewSpec(args[0]).Root(lock.Read).Cluster(lock.Read).PGList(lock.Read).PG(lock.Write, pgID).PGSList(lock.Write).PGS(lock.Write, lock.AllInPG).GWList(lock.Read), nil
}
