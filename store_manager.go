package credvault

import (
	"fmt"
	"sort"
	"sync"
)

var (
	storeBackends = make(map[string]StoreInit)
	lock          sync.RWMutex
)

// NewStore returns a new instance of the persistence backend identified by
// the supplied name. config is a map of key value pairs used to configure and
// authenticate with the backend.
func NewStore(
	name string,
	config map[string]interface{},
) (Store, error) {
	lock.RLock()
	defer lock.RUnlock()

	if bInit, exists := storeBackends[name]; exists {
		return bInit(config)
	}
	return nil, ErrNotSupported
}

// RegisterStore adds a new persistence backend
func RegisterStore(name string, bInit StoreInit) error {
	lock.Lock()
	defer lock.Unlock()
	if _, exists := storeBackends[name]; exists {
		return fmt.Errorf("Credential store backend %v is already"+
			" registered", name)
	}
	storeBackends[name] = bInit
	return nil
}

// Backends returns the sorted names of all registered backends.
func Backends() []string {
	lock.RLock()
	defer lock.RUnlock()

	names := make([]string, 0, len(storeBackends))
	for name := range storeBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
