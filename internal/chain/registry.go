package chain

import (
	"fmt"
	"sync"
	"time"
)

// Registry is a thread-safe registry of supported chains. The gateway
// validates every inbound chain id against it before touching a component.
type Registry struct {
	byID map[ID]Info
	mu   sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]Info)}
}

// Register adds a chain to the registry.
// Panics if the chain id is already registered.
func (r *Registry) Register(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[info.ID]; exists {
		panic(fmt.Sprintf("chain: %d already registered", info.ID))
	}
	r.byID[info.ID] = info
}

// Get retrieves chain metadata by id.
func (r *Registry) Get(id ID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.byID[id]
	return info, ok
}

// Has reports whether the chain id is supported.
func (r *Registry) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// All returns all registered chains.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.byID))
	for _, info := range r.byID {
		result = append(result, info)
	}
	return result
}

// Count returns the number of registered chains.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the registry pre-populated with the supported chains.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		r := NewRegistry()
		r.Register(Info{ID: Ethereum, Name: "ethereum", NativeSymbol: "ETH", BlockTime: 12 * time.Second, EIP1559: true})
		r.Register(Info{ID: Optimism, Name: "optimism", NativeSymbol: "ETH", BlockTime: 2 * time.Second, EIP1559: true})
		r.Register(Info{ID: BSC, Name: "bsc", NativeSymbol: "BNB", BlockTime: 3 * time.Second, EIP1559: false})
		r.Register(Info{ID: Polygon, Name: "polygon", NativeSymbol: "POL", BlockTime: 2 * time.Second, EIP1559: true})
		r.Register(Info{ID: Arbitrum, Name: "arbitrum", NativeSymbol: "ETH", BlockTime: 250 * time.Millisecond, EIP1559: true})
		defaultRegistry = r
	})
	return defaultRegistry
}
