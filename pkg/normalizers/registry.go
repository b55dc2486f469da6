package normalizers

import (
	"sort"
	"strings"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Registry selects a Normalizer by provider key. Unknown keys resolve by
// "<known>-suffix" prefix (e.g. github-app -> github) and then to the fallback.
type Registry struct {
	mu          sync.RWMutex
	normalizers map[string]Normalizer
	fallback    Normalizer
}

func NewRegistry(fallback Normalizer) *Registry {
	if fallback == nil {
		fallback = NewGeneric()
	}
	return &Registry{
		normalizers: make(map[string]Normalizer),
		fallback:    fallback,
	}
}

// NewDefaultRegistry registers every built-in provider.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry(NewGeneric())
	r.Register(NewGitHub())
	r.Register(NewGoogleDrive())
	r.Register(NewGoogleCalendar())
	r.Register(NewSalesforce(opts.SalesforceInstanceDomain))
	r.Register(NewZohoCRM(opts.ZohoOrgID))
	r.Register(NewHubSpot(opts.HubspotPortalID))
	r.Register(NewJira(opts.JiraSite))
	r.Register(NewSlack())
	r.Register(NewNotion())
	return r
}

func (r *Registry) Register(n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[n.Provider()] = n
}

// Get returns the normalizer for provider and whether it was a registered match.
func (r *Registry) Get(provider string) (Normalizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n, ok := r.normalizers[provider]; ok {
		return n, true
	}

	// longest registered key wins so "google-drive-x" picks google-drive over a hypothetical google
	var best Normalizer
	bestLen := 0
	for key, n := range r.normalizers {
		if strings.HasPrefix(provider, key+"-") && len(key) > bestLen {
			best, bestLen = n, len(key)
		}
	}
	if best != nil {
		return best, true
	}

	return r.fallback, false
}

// Normalize runs the provider's normalizer over raw.
func (r *Registry) Normalize(provider, model string, raw map[string]any) (models.NormalizedData, error) {
	n, _ := r.Get(provider)
	return n.Normalize(model, raw)
}

// Catalog returns the provider's catalog; unknown providers have an empty one.
func (r *Registry) Catalog(provider string) Catalog {
	n, ok := r.Get(provider)
	if !ok {
		return Catalog{}
	}
	return n.Catalog()
}

// Providers lists registered provider keys in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.normalizers))
	for k := range r.normalizers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
