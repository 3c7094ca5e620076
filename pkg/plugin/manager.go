package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Manager keeps track of registered plugins, orchestrates their lifecycle
// and dispatches action invocations.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	actions   map[string]boundAction
	configs   map[string]PluginConfig
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
}

type instance struct {
	mu     sync.Mutex
	Plugin Plugin
	Info   Info
	State  State
	Config map[string]any
	Policy IsolationPolicy
}

type boundAction struct {
	pluginID string
	action   Action
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		actions:   make(map[string]boundAction),
		configs:   cfg.Plugins,
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
	}
	if m.configs == nil {
		m.configs = map[string]PluginConfig{}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	return m, nil
}

// Install registers a compiled-in plugin using its configured block.
// It reports false without error when the configuration disables the plugin.
// Plugins absent from the configuration are installed with an empty block.
func (m *Manager) Install(p Plugin) (bool, error) {
	if p == nil {
		return false, errors.New("plugin implementation cannot be nil")
	}
	id := p.Info().ID
	pluginCfg, configured := m.configs[id]
	if configured && !pluginCfg.Enabled {
		return false, nil
	}
	policy := MergePolicies(m.defaults, pluginCfg.Policy)
	if err := m.Register(id, p, cloneConfig(pluginCfg.Config), policy); err != nil {
		return false, err
	}
	return true, nil
}

// Register registers a plugin instance directly with the manager.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}
	info = mergeInfo(info, id)
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}

	var actions []Action
	if provider, ok := p.(ActionProvider); ok {
		if network, ok := m.resources[ResourceNetwork].(Network); ok && !provider.SupportsNetwork(network) {
			return fmt.Errorf("plugin %s does not support network %s", id, network.NetworkID)
		}
		actions = provider.Actions()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	seen := make(map[string]struct{}, len(actions))
	for _, action := range actions {
		if action.Name == "" || action.Invoke == nil {
			return fmt.Errorf("plugin %s declares an incomplete action", id)
		}
		if _, dup := seen[action.Name]; dup {
			return fmt.Errorf("plugin %s declares action %s twice", id, action.Name)
		}
		if owner, taken := m.actions[action.Name]; taken {
			return fmt.Errorf("action %s already provided by %s", action.Name, owner.pluginID)
		}
		seen[action.Name] = struct{}{}
	}
	for _, action := range actions {
		m.actions[action.Name] = boundAction{pluginID: id, action: action}
	}
	m.registry[id] = &instance{Plugin: p, Info: info, State: StateRegistered, Config: cfg, Policy: policy}
	return nil
}

// Start initialises and starts a plugin by id.
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if inst.State == StateRegistered {
		if err := inst.Plugin.Init(execCtx.Clone()); err != nil {
			return fmt.Errorf("initialise plugin %s: %w", id, err)
		}
		inst.State = StateInitialised
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	if err := inst.Plugin.Start(execCtx.Clone()); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("start plugin %s: %w", id, err)
	}
	inst.State = StateStarted
	return nil
}

// Stop halts a plugin if it is running.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Plugin.Stop(execCtx.Clone()); err != nil {
		return fmt.Errorf("stop plugin %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateStopped
	return nil
}

// StartAll starts all registered plugins in id order.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all active plugins in reverse id order and returns every failure.
func (m *Manager) StopAll(ctx context.Context) error {
	ids := m.ids()
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.Stop(ctx, ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state of a plugin.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

// Actions lists the descriptors of every registered action sorted by name.
func (m *Manager) Actions() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Descriptor, 0, len(m.actions))
	for _, bound := range m.actions {
		out = append(out, Describe(bound.pluginID, bound.action))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke validates raw arguments against the action schema and runs the action.
func (m *Manager) Invoke(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	m.mu.RLock()
	bound, ok := m.actions[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	args, err := bound.action.Schema.Parse(raw)
	if err != nil {
		return "", err
	}
	return bound.action.Invoke(ctx, args)
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
