package syncqueue

import (
	"context"
	"sort"
	"sync"

	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/pkg/errors"
)

// ResolverFunc loads the live entity for id. It returns
// domain.ErrEntityNotFound when the entity no longer exists.
type ResolverFunc func(ctx context.Context, id string) (domain.Syncable, error)

// Registry maps entity type tags to resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[domain.EntityType]ResolverFunc
}

func NewRegistry() *Registry {
	return &Registry{
		resolvers: make(map[domain.EntityType]ResolverFunc),
	}
}

// Register binds fn to entityType, replacing any previous resolver.
func (r *Registry) Register(entityType domain.EntityType, fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolvers[entityType] = fn
}

func (r *Registry) Resolve(ctx context.Context, entityType domain.EntityType, id string) (domain.Syncable, error) {
	r.mu.RLock()
	fn, ok := r.resolvers[entityType]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownEntityType, "resolve %q", entityType)
	}

	entity, err := fn(ctx, id)
	if err != nil {
		return nil, err
	}

	if entity == nil {
		return nil, errors.Wrapf(domain.ErrEntityNotFound, "resolve %s %s", entityType, id)
	}

	return entity, nil
}

// Types returns the registered entity types in sorted order.
func (r *Registry) Types() []domain.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.EntityType, 0, len(r.resolvers))
	for t := range r.resolvers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}
