package ailink

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quotelens/quotelens/internal/ailink/driver"
	"github.com/quotelens/quotelens/internal/ailink/driver/openai"
	"github.com/quotelens/quotelens/internal/ailink/driver/xai"
)

type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
	rr      map[string]int
}

type ResolvedProvider struct {
	ProviderID string
	Provider   ProviderInstanceConfig
	Credential CredentialConfig
	Driver     driver.Driver
	Model      string
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.cfg
}

// Candidates returns the enabled provider ids to try for role, in order:
// the routing entry, the role's fallbacks, providers declaring the role,
// then the default provider. With no routing at all a single enabled
// provider is used.
func (r *Registry) Candidates(role string) ([]string, error) {
	if r == nil {
		return nil, ErrNoProviders
	}

	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		cfg, ok := r.cfg.Providers[id]
		if !ok || !cfg.Enabled {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	role = strings.TrimSpace(role)
	if role != "" {
		add(r.cfg.Routing[role])
		for _, id := range r.cfg.Fallbacks[role] {
			add(id)
		}
		for _, id := range sortedProviderIDs(r.cfg.Providers) {
			if contains(r.cfg.Providers[id].Roles, role) {
				add(id)
			}
		}
	}
	add(r.cfg.DefaultProvider)

	if len(out) == 0 {
		var enabled []string
		for _, id := range sortedProviderIDs(r.cfg.Providers) {
			if r.cfg.Providers[id].Enabled {
				enabled = append(enabled, id)
			}
		}
		if len(enabled) == 1 {
			out = enabled
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for role %q", ErrNoProviders, role)
	}
	return out, nil
}

// Resolve selects a credential, driver and model for providerID.
func (r *Registry) Resolve(providerID, modelOverride string) (*ResolvedProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	providerID = strings.TrimSpace(providerID)
	providerCfg, ok := r.cfg.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}
	if !providerCfg.Enabled {
		return nil, fmt.Errorf("provider %q is disabled", providerID)
	}

	cred, credKey, err := selectCredential(providerCfg, func(groupKey string, n int) int {
		return r.rrIndex(providerID+":"+groupKey, n)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w: %v", providerID, driver.ErrNotConfigured, err)
	}

	drv, err := r.driverFor(providerID, providerCfg, cred, credKey)
	if err != nil {
		return nil, err
	}

	model, err := resolveModel(providerCfg, modelOverride)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w: %v", providerID, driver.ErrNotConfigured, err)
	}

	return &ResolvedProvider{
		ProviderID: providerID,
		Provider:   providerCfg,
		Credential: cred,
		Driver:     drv,
		Model:      model,
	}, nil
}

func selectCredential(cfg ProviderInstanceConfig, rrNext func(groupKey string, n int) int) (CredentialConfig, string, error) {
	if len(cfg.Credentials) == 0 {
		return CredentialConfig{}, "", fmt.Errorf("no credentials configured")
	}

	enabled := make([]CredentialConfig, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		if !cred.Enabled && strings.TrimSpace(cred.Label) != "" {
			continue
		}
		if strings.TrimSpace(cred.APIKey) == "" {
			continue
		}
		enabled = append(enabled, cred)
	}
	if len(enabled) == 0 {
		// Credentials exist but are not usable; return first so the driver reports the missing key.
		cred := cfg.Credentials[0]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = "0"
		}
		return cred, key, nil
	}

	if label := strings.TrimSpace(cfg.DefaultCredential); label != "" {
		for _, cred := range enabled {
			if strings.EqualFold(strings.TrimSpace(cred.Label), label) {
				return cred, strings.TrimSpace(cred.Label), nil
			}
		}
	}

	highest := enabled[0].Priority
	for _, cred := range enabled[1:] {
		if cred.Priority > highest {
			highest = cred.Priority
		}
	}
	group := make([]CredentialConfig, 0, len(enabled))
	for _, cred := range enabled {
		if cred.Priority == highest {
			group = append(group, cred)
		}
	}

	idx := 0
	if strings.EqualFold(strings.TrimSpace(cfg.SelectionPolicy), "round_robin") && rrNext != nil {
		idx = rrNext(fmt.Sprintf("%d", highest), len(group))
	}
	cred := group[idx]
	key := strings.TrimSpace(cred.Label)
	if key == "" {
		key = fmt.Sprintf("p%d-%d", highest, idx)
	}
	return cred, key, nil
}

func (r *Registry) driverFor(providerID string, providerCfg ProviderInstanceConfig, cred CredentialConfig, credKey string) (driver.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	driverKey := providerID
	if strings.TrimSpace(credKey) != "" {
		driverKey += ":" + credKey
	}
	if drv, ok := r.drivers[driverKey]; ok {
		return drv, nil
	}

	var drv driver.Driver
	providerType := strings.ToLower(strings.TrimSpace(providerCfg.AIProvider))
	switch providerType {
	case "xai":
		client := xai.NewClient(providerCfg.BaseURL, cred.APIKey)
		client.Timeout = r.cfg.DefaultTimeout
		drv = client
	case "openai":
		client := openai.NewClient(providerCfg.BaseURL, cred.APIKey)
		client.Timeout = r.cfg.DefaultTimeout
		drv = client
	default:
		if providerType == "" {
			providerType = "(unset)"
		}
		return nil, fmt.Errorf("unsupported ai_provider %q for provider %q", providerType, providerID)
	}
	r.drivers[driverKey] = drv
	return drv, nil
}

func resolveModel(providerCfg ProviderInstanceConfig, override string) (string, error) {
	if model := strings.TrimSpace(override); model != "" {
		return model, nil
	}
	if providerCfg.Models != nil {
		if model := strings.TrimSpace(providerCfg.Models["default"]); model != "" {
			return model, nil
		}
	}
	return "", fmt.Errorf("model not configured")
}

func (r *Registry) rrIndex(key string, n int) int {
	if n <= 1 || r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rr == nil {
		r.rr = map[string]int{}
	}
	idx := r.rr[key] % n
	r.rr[key]++
	return idx
}

func sortedProviderIDs(providers map[string]ProviderInstanceConfig) []string {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(values []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), needle) {
			return true
		}
	}
	return false
}
