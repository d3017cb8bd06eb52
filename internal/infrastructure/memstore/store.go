package memstore

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/execution-hub/moldwatch/internal/domain/controller"
)

// Store is an in-memory controller.Store.
type Store struct {
	mu        sync.RWMutex
	states    map[int]controller.State
	listeners map[int]controller.Listener
	nextID    int
}

var _ controller.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		states:    make(map[int]controller.State),
		listeners: make(map[int]controller.Listener),
	}
}

func (s *Store) Get(id int) (controller.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return controller.State{}, false
	}
	return st.Clone(), true
}

func (s *Store) Has(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[id]
	return ok
}

func (s *Store) Set(state controller.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ControllerID] = state.Clone()
}

func (s *Store) Delete(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; !ok {
		return false
	}
	delete(s.states, id)
	return true
}

func (s *Store) Keys() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.states))
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Snapshot returns copies of all states ordered by display name, then id.
func (s *Store) Snapshot() []controller.State {
	s.mu.RLock()
	out := make([]controller.State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, controller.Compare)
	return out
}

func (s *Store) All() iter.Seq[controller.State] {
	return func(yield func(controller.State) bool) {
		for _, st := range s.Snapshot() {
			if !yield(st) {
				return
			}
		}
	}
}

func (s *Store) RaiseChangeEvent(id int) {
	s.notify(controller.Change{ControllerID: id})
}

func (s *Store) RaiseListChanged() {
	s.notify(controller.Change{List: true})
}

func (s *Store) Subscribe(listener controller.Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(change controller.Change) {
	s.mu.RLock()
	ids := slices.Sorted(maps.Keys(s.listeners))
	listeners := make([]controller.Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(change)
	}
}
