package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"exchangehub/config"
	"exchangehub/internal/errs"
)

// Constructor builds one exchange's connector.
type Constructor func(creds config.Credentials, deps Deps, ex config.ExchangeConfig) (Connector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a connector constructor available by exchange id. It panics
// on duplicates, like database/sql drivers.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name = strings.ToLower(name)
	if ctor == nil {
		panic("connector: Register constructor is nil")
	}
	if _, dup := registry[name]; dup {
		panic("connector: Register called twice for " + name)
	}
	registry[name] = ctor
}

// Registered lists the known exchange ids, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open builds the connector registered for creds.Exchange.
func Open(creds config.Credentials, deps Deps, ex config.ExchangeConfig) (Connector, error) {
	name := strings.ToLower(creds.Exchange)
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownExchange, creds.Exchange)
	}
	return ctor(creds, deps, ex)
}
