package controller

import "iter"

// Change describes a store mutation that should be shown to readers.
// List is set when the set of controllers itself changed.
type Change struct {
	ControllerID int
	List         bool
}

// Listener receives change notifications.
type Listener func(Change)

// Store is the keyed cache of controller states. Getters return copies;
// callers publish mutations explicitly with RaiseChangeEvent or RaiseListChanged.
type Store interface {
	Get(id int) (State, bool)
	Has(id int) bool
	Set(state State)
	Delete(id int) bool
	Keys() []int
	Len() int

	// Snapshot returns all states ordered by display name, then id.
	Snapshot() []State
	// All yields the same ordering lazily; each range re-reads the store.
	All() iter.Seq[State]

	RaiseChangeEvent(id int)
	RaiseListChanged()
	Subscribe(listener Listener) (unsubscribe func())
}
