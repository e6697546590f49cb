package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ixado/ixado/internal/state"
)

var (
	registry     = make(map[state.AdapterID]func(Config) Adapter)
	registryLock sync.RWMutex
)

// Register adds an adapter factory to the registry.
func Register(id state.AdapterID, factory func(Config) Adapter) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[id] = factory
}

// Get builds an adapter for the given id with the given configuration.
func Get(id state.AdapterID, cfg Config) (Adapter, error) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	factory, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown adapter: %s", id)
	}

	return factory(cfg), nil
}

// List returns all registered adapter ids in stable order.
func List() []state.AdapterID {
	registryLock.RLock()
	defer registryLock.RUnlock()

	ids := make([]state.AdapterID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Exists checks if an adapter is registered.
func Exists(id state.AdapterID) bool {
	registryLock.RLock()
	defer registryLock.RUnlock()
	_, ok := registry[id]
	return ok
}
