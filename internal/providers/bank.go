package providers

import (
	"fmt"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

// Bank resolves a Binding's provider_id to the Adapter that executes it.
// One adapter per provider family; each adapter accepts any model_id
// that backend serves.
type Bank struct {
	adapters map[domain.Provider]Adapter
}

func NewBank() *Bank {
	return &Bank{adapters: make(map[domain.Provider]Adapter)}
}

func (b *Bank) Register(a Adapter) {
	b.adapters[a.ProviderID()] = a
}

func (b *Bank) For(providerID domain.Provider) (Adapter, error) {
	a, ok := b.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("providers: no adapter registered for provider_id %q", providerID)
	}
	return a, nil
}
