package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type echoPlugin struct {
	id         string
	caps       []Capability
	configured map[string]any
	started    int
	stopped    int
	network    Network
	networkOK  bool
	mainnet    bool
}

func (p *echoPlugin) Info() Info {
	return Info{ID: p.id, Name: "echo", Category: TypeActionProvider, Capabilities: p.caps}
}

func (p *echoPlugin) Configure(cfg map[string]any) error {
	p.configured = cfg
	return nil
}

func (p *echoPlugin) Init(ctx *ExecutionContext) error {
	p.network, p.networkOK = ctx.Network()
	return nil
}

func (p *echoPlugin) Start(*ExecutionContext) error { p.started++; return nil }
func (p *echoPlugin) Stop(*ExecutionContext) error  { p.stopped++; return nil }

func (p *echoPlugin) SupportsNetwork(network Network) bool {
	return !p.mainnet || network.NetworkID == "mainnet"
}

func (p *echoPlugin) Actions() []Action {
	return []Action{{
		Name:        p.id + "_echo",
		Description: "echo a message",
		Schema: Schema{Fields: []Field{
			{Name: "message", Required: true},
			{Name: "count", Check: func(v string) error {
				if strings.HasPrefix(v, "-") {
					return errors.New("must not be negative")
				}
				return nil
			}},
		}},
		Invoke: func(_ context.Context, args Args) (string, error) {
			return args.Get("message") + "/" + args["count"], nil
		},
	}}
}

func TestManagerInvokeValidatesArguments(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Register("demo", &echoPlugin{id: "demo"}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := m.Invoke(context.Background(), "demo_echo", json.RawMessage(`{"message":" hi ","count":3,"extra":true}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != "hi/3" {
		t.Fatalf("unexpected result %q", result)
	}

	var verr *ValidationError
	if _, err := m.Invoke(context.Background(), "demo_echo", json.RawMessage(`{}`)); !errors.As(err, &verr) || verr.Field != "message" {
		t.Fatalf("expected missing message error, got %v", err)
	}
	if _, err := m.Invoke(context.Background(), "demo_echo", json.RawMessage(`{"message":"x","count":"-1"}`)); !errors.As(err, &verr) || verr.Field != "count" {
		t.Fatalf("expected count check error, got %v", err)
	}
	if _, err := m.Invoke(context.Background(), "demo_echo", json.RawMessage(`[1]`)); !errors.As(err, &verr) {
		t.Fatalf("expected non-object error, got %v", err)
	}
	if _, err := m.Invoke(context.Background(), "missing", nil); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected action not found, got %v", err)
	}
}

func TestManagerRejectsDuplicateActions(t *testing.T) {
	m, _ := NewManager(ManagerConfig{})
	if err := m.Register("demo", &echoPlugin{id: "demo"}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register("demo", &echoPlugin{id: "demo"}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	actions := m.Actions()
	if len(actions) != 1 || actions[0].Provider != "demo" || len(actions[0].Fields) != 2 || !actions[0].Fields[0].Required {
		t.Fatalf("unexpected descriptors %+v", actions)
	}
}

func TestManagerLifecycleAndPolicy(t *testing.T) {
	isolation := &PolicyIsolation{}
	network := Network{ProtocolFamily: "evm", NetworkID: "base-sepolia", ChainID: "84532"}
	m, _ := NewManager(ManagerConfig{
		Defaults: IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork, CapabilityWallet}},
	}, WithIsolationStrategy(isolation), WithResource(ResourceNetwork, network))

	denied := &echoPlugin{id: "oracle", caps: []Capability{CapabilityOracle}}
	if err := m.Register("oracle", denied, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected capability violation")
	}
	mainnetOnly := &echoPlugin{id: "mainnet", mainnet: true}
	if err := m.Register("mainnet", mainnetOnly, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected unsupported network error")
	}

	p := &echoPlugin{id: "wallet", caps: []Capability{CapabilityWallet}}
	if err := m.Register("wallet", p, map[string]any{"k": "v"}, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if state, _ := m.State("wallet"); state != StateStarted || p.started != 1 || !isolation.Active("wallet") {
		t.Fatalf("plugin not started: %s", state)
	}
	if !p.networkOK || p.network != network {
		t.Fatalf("network resource not exposed: %+v", p.network)
	}
	if err := m.Start(context.Background(), "wallet"); err != nil || p.started != 1 {
		t.Fatalf("second start must be a no-op")
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if state, _ := m.State("wallet"); state != StateStopped || p.stopped != 1 || isolation.Active("wallet") {
		t.Fatalf("plugin not stopped: %s", state)
	}
	if _, err := m.State("unknown"); err == nil {
		t.Fatalf("expected unknown plugin error")
	}
}

func TestInstallHonoursConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	content := `
plugins:
  enabled:
    enabled: true
    config:
      poll_interval_ms: 500
    policy:
      allowedCapabilities: [wallet]
  disabled:
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadManagerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	enabled := &echoPlugin{id: "enabled", caps: []Capability{CapabilityWallet}}
	if ok, err := m.Install(enabled); err != nil || !ok {
		t.Fatalf("install enabled: %v %v", ok, err)
	}
	if enabled.configured["poll_interval_ms"] != 500 {
		t.Fatalf("config block not passed: %v", enabled.configured)
	}
	if ok, err := m.Install(&echoPlugin{id: "disabled"}); err != nil || ok {
		t.Fatalf("disabled plugin must be skipped: %v %v", ok, err)
	}
	if ok, err := m.Install(&echoPlugin{id: "unlisted"}); err != nil || !ok {
		t.Fatalf("unlisted plugin must install: %v %v", ok, err)
	}
	if ok, err := m.Install(&echoPlugin{id: "needs-policy", caps: []Capability{CapabilityOracle}}); err == nil || ok {
		t.Fatalf("capabilities without a policy must be rejected")
	}
}

func TestManagerConfigRejectsUnknownCapability(t *testing.T) {
	cfg := ManagerConfig{Plugins: map[string]PluginConfig{
		"p": {Enabled: true, Policy: &IsolationPolicy{AllowedCapabilities: []Capability{"filesystem"}}},
	}}
	if _, err := NewManager(cfg); err == nil {
		t.Fatalf("expected unknown capability error")
	}
}
