package replicator

import "errors"

// ErrReplicationFailure wraps shadow-store write errors. It is logged and
// counted inside this package and must never reach a wallet or order caller.
var ErrReplicationFailure = errors.New("replicator: shadow write failed")

// ErrUnknownEntity means no writer is registered for the entity type.
var ErrUnknownEntity = errors.New("replicator: unknown entity type")
