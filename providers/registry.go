// Package providers keeps a registry of provider constructors so binaries can
// select a backend by name.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/erikhoward/kirogw/core"
)

// Factory builds a provider from a single secret, such as a refresh token.
type Factory func(secret string) core.Provider

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a provider constructor available under name. It panics if
// name is registered twice.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("providers: Register called twice for " + name)
	}
	factories[name] = f
}

// New builds the provider registered under name.
func New(name, secret string) (core.Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
	return f(secret), nil
}

// Names returns the registered provider names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
