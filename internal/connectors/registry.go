package connectors

import (
	"fmt"
	"sync"
)

// VCSFactory constructs a VCS connector from its provider-specific config.
type VCSFactory func(cfg map[string]string) (VCS, error)

// PMFactory constructs a PM connector from its provider-specific config.
type PMFactory func(cfg map[string]string) (PM, error)

var (
	mu          sync.RWMutex
	vcsFactories = map[string]VCSFactory{}
	pmFactories  = map[string]PMFactory{}
)

// RegisterVCS registers a VCS connector constructor under name. Called
// from each provider package's init().
func RegisterVCS(name string, f VCSFactory) {
	mu.Lock()
	defer mu.Unlock()
	vcsFactories[name] = f
}

// RegisterPM registers a PM connector constructor under name.
func RegisterPM(name string, f PMFactory) {
	mu.Lock()
	defer mu.Unlock()
	pmFactories[name] = f
}

// NewVCS builds the named VCS connector. The core never imports provider
// packages directly -- callers import them only for their init() side
// effect (registration), then look them up here by configured name.
func NewVCS(name string, cfg map[string]string) (VCS, error) {
	mu.RLock()
	f, ok := vcsFactories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no VCS connector registered under %q", name)
	}
	return f(cfg)
}

// NewPM builds the named PM connector, or nil if name is empty -- the core
// degrades silently when no PM provider is configured (spec §4.6).
func NewPM(name string, cfg map[string]string) (PM, error) {
	if name == "" {
		return nil, nil
	}
	mu.RLock()
	f, ok := pmFactories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no PM connector registered under %q", name)
	}
	return f(cfg)
}
