package bridge

import (
	"sync"

	"github.com/agentworkforce/gitbridge/internal/githost"
)

// Registry holds the process-wide service state that used to live in
// package-level singletons: the current host client and the loaded settings.
// It is constructed once at startup and passed by reference, so tests can run
// isolated instances.
type Registry struct {
	mu       sync.RWMutex
	host     githost.HostClient
	settings Settings
}

func NewRegistry(host githost.HostClient, settings Settings) *Registry {
	return &Registry{host: host, settings: settings}
}

func (r *Registry) Host() githost.HostClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

func (r *Registry) SetHost(host githost.HostClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host = host
}

func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *Registry) SetSettings(settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
}
