package datasource

import (
	"context"
	"sort"
	"sync"
)

// Factory opens a connection from a plaintext connection descriptor.
// The returned connection has not been handshaken yet.
type Factory func(ctx context.Context, descriptor string) (Connection, error)

// AdapterInfo describes a registered driver.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mysql", "sqlserver", "bigquery"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Google BigQuery"
}

// AdapterRegistration pairs driver info with the factory that builds its connections.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each driver package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered drivers, ordered by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// RegisteredTypes returns the sorted list of supported datasource types.
func RegisteredTypes() []string {
	adapters := RegisteredAdapters()
	types := make([]string, len(adapters))
	for i, a := range adapters {
		types[i] = a.Type
	}
	return types
}

// GetFactory returns the factory for a datasource type.
// Returns nil if type is not registered.
func GetFactory(dsType string) Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if a driver type is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}
