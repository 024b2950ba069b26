package provider

import (
	"errors"

	"github.com/numlease/numlease/internal/config"
)

// ErrUnknownProvider is returned when a provider id is not in the registry.
var ErrUnknownProvider = errors.New("unknown provider")

// Info pairs an adapter with its admin-owned attributes. The provider set is
// fixed; entries are never created or destroyed at runtime.
type Info struct {
	ID            string
	Scope         Scope
	MarkupPercent int64
	Adapter       Adapter
}

// Registry holds the fixed set of upstream providers.
type Registry struct {
	providers map[string]Info
	order     []string
}

// NewRegistry builds the provider set from config. Markup percentages are
// admin-configured and injected here, never hard-coded downstream.
func NewRegistry(cfg config.ProvidersConfig) *Registry {
	entries := []Info{
		{
			ID:            "daisysms",
			Scope:         ScopeUSOnly,
			MarkupPercent: cfg.DaisySMS.MarkupPercent,
			Adapter:       NewDaisySMS(cfg.DaisySMS.APIKey, cfg.DaisySMS.BaseURL),
		},
		{
			ID:            "smspool",
			Scope:         ScopeGlobal,
			MarkupPercent: cfg.SMSPool.MarkupPercent,
			Adapter:       NewSMSPool(cfg.SMSPool.APIKey, cfg.SMSPool.BaseURL),
		},
		{
			ID:            "fivesim",
			Scope:         ScopeGlobal,
			MarkupPercent: cfg.FiveSim.MarkupPercent,
			Adapter:       NewFiveSim(cfg.FiveSim.APIKey, cfg.FiveSim.BaseURL),
		},
	}

	r := &Registry{providers: make(map[string]Info, len(entries))}
	for _, e := range entries {
		r.providers[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	return r
}

// NewRegistryFromInfos builds a registry from explicit entries. Tests use this
// to install fake adapters.
func NewRegistryFromInfos(entries ...Info) *Registry {
	r := &Registry{providers: make(map[string]Info, len(entries))}
	for _, e := range entries {
		r.providers[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	return r
}

// Get returns the provider entry for id.
func (r *Registry) Get(id string) (Info, error) {
	info, ok := r.providers[id]
	if !ok {
		return Info{}, ErrUnknownProvider
	}
	return info, nil
}

// List returns all providers in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}
