// Package errors defines sentinel errors and error kinds used across confmaster.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity lookups.
var (
	// ErrClusterNotFound indicates the cluster does not exist.
	ErrClusterNotFound = errors.New("cluster does not exist")

	// ErrPGNotFound indicates the partition group does not exist.
	ErrPGNotFound = errors.New("partition group does not exist")

	// ErrPGSNotFound indicates the partition group server does not exist.
	ErrPGSNotFound = errors.New("partition group server does not exist")

	// ErrGWNotFound indicates the gateway does not exist.
	ErrGWNotFound = errors.New("gateway does not exist")

	// ErrDuplicated indicates the entity already exists.
	ErrDuplicated = errors.New("duplicated")
)

// Sentinel errors for invariant violations.
var (
	// ErrPGNotEmpty indicates a partition group still has members.
	ErrPGNotEmpty = errors.New("the pg has a pgs or more")

	// ErrClusterNotEmpty indicates a cluster still has partition groups or gateways.
	ErrClusterNotEmpty = errors.New("the cluster has a pg or gw")

	// ErrQuorumRange indicates a quorum change would break 0 <= quorum < copy.
	ErrQuorumRange = errors.New("quorum out of range")

	// ErrNotCandidate indicates a role change candidate is not an eligible slave.
	ErrNotCandidate = errors.New("the candidate is not a slave and green.")

	// ErrNoRecentLogs indicates a replica's replication log is too stale for promotion.
	ErrNoRecentLogs = errors.New("has no recent logs")

	// ErrDivergedLogs indicates a joining replica holds writes its master never had.
	ErrDivergedLogs = errors.New("has diverged logs")

	// ErrReplicationPing indicates a GREEN member's redis did not answer ping.
	ErrReplicationPing = errors.New("check redis replication ping fail")

	// ErrNotJoined indicates a pgs is not part of its group's replication.
	ErrNotJoined = errors.New("the pgs is not joined")
)

// Sentinel errors for the command surface.
var (
	// ErrNotForced indicates op_wf was issued without the forced keyword.
	ErrNotForced = errors.New("not forced mode")

	// ErrUnknownWorkflow indicates an unsupported workflow code.
	ErrUnknownWorkflow = errors.New("not supported workflow")

	// ErrUnknownCommand indicates the command is not registered.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArgs indicates wrong number or format of arguments.
	ErrInvalidArgs = errors.New("wrong number of arguments")
)

// Sentinel errors for connection/protocol.
var (
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnexpectedReply indicates a peer answered with something other than expected.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Kind classifies a failure so callers can decide how to report it.
type Kind int

const (
	// KindPrecondition is detected before any mutation; nothing was changed.
	KindPrecondition Kind = iota + 1
	// KindFencing means a replica's log was too stale to promote safely.
	KindFencing
	// KindInfrastructure means the store or a decisive peer failed.
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindFencing:
		return "fencing"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is a classified failure carrying the offending entity in its message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Precondition returns a KindPrecondition error.
func Precondition(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Fencing returns a KindFencing error.
func Fencing(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindFencing, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Infrastructure returns a KindInfrastructure error. The cause is appended to the message.
func Infrastructure(err error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Error{Kind: KindInfrastructure, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
