package store

import (
	"context"
	"fmt"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

// Session is the unit of work for one event. Loaded entities are cached so
// every reader in the event shares the same pointer, and writes are held
// until Commit flushes them in a single SaveBatch. Dropping a session
// without committing discards every change.
type Session struct {
	store    Store
	json     adapter.JSON
	entities map[string]schema.Entity
	dirty    map[string]bool
	order    []string
}

// NewSession opens a session over the store
func NewSession(st Store, jsonAdapter adapter.JSON) *Session {
	return &Session{
		store:    st,
		json:     jsonAdapter,
		entities: make(map[string]schema.Entity),
		dirty:    make(map[string]bool),
	}
}

// Get returns the entity of the given kind and id, or nil when none exists.
// Repeated calls within a session return the same pointer.
func Get[T any, P interface {
	*T
	schema.Entity
}](ctx context.Context, s *Session, kind schema.Kind, id string) (P, error) {
	key := recordKey(kind, id)
	if e, ok := s.entities[key]; ok {
		typed, ok := e.(P)
		if !ok {
			return nil, fmt.Errorf("entity %s is %T, not %T", key, e, typed)
		}
		return typed, nil
	}

	data, ok, err := s.store.Load(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	entity := P(new(T))
	if err := s.json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	s.entities[key] = entity

	return entity, nil
}

// Exists reports whether an entity is present in the session or the store
func (s *Session) Exists(ctx context.Context, kind schema.Kind, id string) (bool, error) {
	if _, ok := s.entities[recordKey(kind, id)]; ok {
		return true, nil
	}

	_, ok, err := s.store.Load(ctx, kind, id)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", recordKey(kind, id), err)
	}
	return ok, nil
}

// Put stages an entity for writing. Putting the same key twice keeps the
// latest value in the position of the first put.
func (s *Session) Put(e schema.Entity) {
	key := recordKey(e.EntityKind(), e.EntityID())
	s.entities[key] = e
	if !s.dirty[key] {
		s.dirty[key] = true
		s.order = append(s.order, key)
	}
}

// Pending returns the number of staged entities
func (s *Session) Pending() int {
	return len(s.order)
}

// Commit writes every staged entity in one batch
func (s *Session) Commit(ctx context.Context) error {
	if len(s.order) == 0 {
		return nil
	}

	records := make([]Record, 0, len(s.order))
	for _, key := range s.order {
		e := s.entities[key]
		data, err := s.json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		records = append(records, Record{
			Kind: e.EntityKind(),
			ID:   e.EntityID(),
			Data: data,
		})
	}

	if err := s.store.SaveBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	s.dirty = make(map[string]bool)
	s.order = nil
	return nil
}
