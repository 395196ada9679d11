package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that no node has the requested identity or path.
	ErrNotFound = errors.New("node not found")

	// ErrStructural indicates an insert or move forbidden by the kind table.
	ErrStructural = errors.New("structural constraint violated")

	// ErrSiblingIDCollision indicates that a node id is already used by a sibling.
	ErrSiblingIDCollision = errors.New("sibling id collision")

	// ErrInvalidNodeID indicates that a node id is not a valid element name.
	ErrInvalidNodeID = errors.New("invalid node id")

	// ErrTransactionPending indicates that Begin was called inside a transaction.
	ErrTransactionPending = errors.New("transaction already in progress")

	// ErrNoTransaction indicates Commit or Rollback without Begin.
	ErrNoTransaction = errors.New("no active transaction")
)

// StructuralError describes a rejected tree mutation.
type StructuralError struct {
	Op     string
	Node   Ident
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Node, e.Reason)
}

func (e *StructuralError) Unwrap() error { return ErrStructural }

// CollisionError reports the sibling already holding NodeID.
type CollisionError struct {
	Parent   Ident
	NodeID   string
	Existing Ident
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("node id %q is already used by sibling %s", e.NodeID, e.Existing)
}

func (e *CollisionError) Unwrap() error { return ErrSiblingIDCollision }
