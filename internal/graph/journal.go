package graph

// journal holds the pre-transaction image of every node touched since Begin.
// A nil image marks a node that did not exist yet.
type journal struct {
	before map[Ident]*Node
}

// touch records the pre-image of id the first time it changes inside a
// transaction. Every mutation calls it before writing.
func (s *Store) touch(id Ident) {
	if s.tx == nil {
		return
	}
	if _, seen := s.tx.before[id]; seen {
		return
	}
	if n, ok := s.nodes[id]; ok {
		s.tx.before[id] = n.clone()
	} else {
		s.tx.before[id] = nil
	}
}

// Begin starts a transaction. Mutations until Commit or Rollback can be
// undone as a unit.
func (s *Store) Begin() error {
	if s.tx != nil {
		return ErrTransactionPending
	}
	s.tx = &journal{before: make(map[Ident]*Node)}
	return nil
}

// InTransaction reports whether Begin is active.
func (s *Store) InTransaction() bool { return s.tx != nil }

// Commit keeps every change made since Begin.
func (s *Store) Commit() error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	s.tx = nil
	return nil
}

// Rollback restores every touched node to its pre-transaction image and
// drops nodes created since Begin. Node pointers obtained during the
// transaction are stale afterwards.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	for id, pre := range s.tx.before {
		if pre == nil {
			delete(s.nodes, id)
			continue
		}
		s.nodes[id] = pre
	}
	s.tx = nil
	return nil
}
