package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeActionProvider plugins expose named actions to an agent.
	TypeActionProvider Type = "action_provider"
	// TypeService plugins only run background routines.
	TypeService Type = "service"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityNetwork Capability = "network"
	CapabilityWallet  Capability = "wallet"
	CapabilityOracle  Capability = "oracle"
	CapabilityStorage Capability = "storage"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)

// Network identifies the chain an agent is operating on.
type Network struct {
	ProtocolFamily string `json:"protocolFamily" yaml:"protocol_family"`
	NetworkID      string `json:"networkId" yaml:"network_id"`
	ChainID        string `json:"chainId" yaml:"chain_id"`
}

// ResourceNetwork is the resource key under which hosts expose the active Network.
const ResourceNetwork = "network"
