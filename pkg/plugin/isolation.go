package plugin

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// IsolationStrategy enforces security restrictions for plugins at runtime.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// PolicyIsolation validates capabilities against the policy and tracks
// which plugins currently hold an active grant.
type PolicyIsolation struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// Validate ensures the plugin requested capabilities are allowed.
func (*PolicyIsolation) Validate(info Info, policy IsolationPolicy) error {
	for _, cap := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, cap) {
			return fmt.Errorf("plugin %s: capability %s is explicitly denied", info.ID, cap)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, cap := range info.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, cap) {
			return fmt.Errorf("plugin %s: capability %s not permitted", info.ID, cap)
		}
	}
	return nil
}

// Prepare marks the plugin as holding its capability grant.
func (p *PolicyIsolation) Prepare(info Info) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		p.active = make(map[string]struct{})
	}
	p.active[info.ID] = struct{}{}
	return nil
}

// Cleanup releases the grant taken by Prepare.
func (p *PolicyIsolation) Cleanup(info Info) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, info.ID)
	return nil
}

// Active reports whether Prepare has been called for the plugin without a matching Cleanup.
func (p *PolicyIsolation) Active(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

// NewIsolationStrategy returns a default isolation strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return &PolicyIsolation{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if len(merged.AllowedCapabilities) == 0 && len(merged.DeniedCapabilities) == 0 {
		return defaults
	}
	return merged
}

// EnsurePolicy returns an error when the isolation policy is empty and the plugin requests capabilities.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("plugins declaring capabilities require an isolation policy")
	}
	return nil
}
