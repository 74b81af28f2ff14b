// Package store defines the metadata store consumed by confmaster: a hierarchical,
// versioned tree of JSON records with atomic multi-op commits and change notifications.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Common errors
var (
	ErrNotFound        = errors.New("node does not exist")
	ErrExists          = errors.New("node already exists")
	ErrVersionConflict = errors.New("node version conflict")
)

// AnyVersion skips the version check of Update and Delete.
const AnyVersion int64 = -1

// OpType is the kind of mutation carried by an Op.
type OpType int

const (
	OpCreate OpType = iota
	OpUpdate
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one mutation inside a Multi commit.
type Op struct {
	Type    OpType
	Path    string
	Value   interface{}
	Version int64
}

func Create(path string, v interface{}) Op {
	return Op{Type: OpCreate, Path: path, Value: v, Version: AnyVersion}
}

func Update(path string, v interface{}, version int64) Op {
	return Op{Type: OpUpdate, Path: path, Value: v, Version: version}
}

func Delete(path string, version int64) Op {
	return Op{Type: OpDelete, Path: path, Version: version}
}

// Record is a stored node as seen by List and Watch.
type Record struct {
	Path    string
	Version int64
	Deleted bool
	data    json.RawMessage
}

// Decode unmarshals the record payload into out.
func (r Record) Decode(out interface{}) error {
	if r.Deleted {
		return ErrNotFound
	}
	return json.Unmarshal(r.data, out)
}

// Store is the strongly-consistent metadata store.
type Store interface {
	// Get decodes the node at path into out and returns its version.
	Get(ctx context.Context, path string, out interface{}) (int64, error)
	// Create stores a new node; it fails with ErrExists.
	Create(ctx context.Context, path string, v interface{}) (int64, error)
	// Update replaces a node if its version matches (or version is AnyVersion).
	Update(ctx context.Context, path string, v interface{}, version int64) (int64, error)
	Delete(ctx context.Context, path string, version int64) error
	// List returns the nodes whose path starts with prefix, in path order.
	List(ctx context.Context, prefix string) ([]Record, error)
	// Multi applies all ops atomically or none of them.
	Multi(ctx context.Context, ops ...Op) error
	// Watch calls fn for every change under prefix until ctx is done.
	Watch(ctx context.Context, prefix string, fn func(Record)) error

	Close() error
}

type envelope struct {
	Version int64           `json:"v"`
	Data    json.RawMessage `json:"d"`
}
