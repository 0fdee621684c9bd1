package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"eventnode/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("1s", "250ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the configuration for the eventnode application
type Config struct {
	// Default config file location
	configFile string

	// Node role and addressing
	Node struct {
		IsClient       bool     `json:"is_client"`
		ExternalAddr   string   `json:"external_addr"` // Reachable host:port advertised to peers. Required unless is_client
		ListenAddr     string   `json:"listen_addr"`
		BootstrapPeers []string `json:"bootstrap_peers"`
	} `json:"node"`

	// Blockchain provider and contract binding. An empty provider_url leaves the provider unconfigured
	Network struct {
		Name            string `json:"name"`
		ProviderURL     string `json:"provider_url"`
		ContractAddress string `json:"contract_address"`
		ContractABIPath string `json:"contract_abi_path"` // Optional, the built-in ABI is used when empty
		DeployBlock     uint64 `json:"deploy_block"`
	} `json:"network"`

	// Synchronization tuning
	Sync struct {
		Interval        Duration `json:"interval"`
		Jitter          Duration `json:"jitter"`
		PeerTimeout     Duration `json:"peer_timeout"`
		ProviderTimeout Duration `json:"provider_timeout"`
		PageSize        uint64   `json:"page_size"`
		MaxStep         uint64   `json:"max_step"`
		MinStep         uint64   `json:"min_step"`
		MaxAttempts     int      `json:"max_attempts"`
		HTTPRetries     int      `json:"http_retries"`
	} `json:"sync"`

	DataStore struct {
		PeerIndexPath  string `json:"peer_index"`
		EventIndexPath string `json:"event_index"`
	} `json:"datastore"`

	Discovery struct {
		Multicast     bool   `json:"multicast"`
		MulticastAddr string `json:"multicast_addr"`
	} `json:"discovery"`

	Metrics struct {
		Enabled bool `json:"enabled"`
	} `json:"metrics"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Node.IsClient = true
	cfg.Node.ListenAddr = ":8645"

	cfg.Network.Name = "Goerli"

	cfg.Sync.Interval = Duration(30 * time.Second)
	cfg.Sync.Jitter = Duration(5 * time.Second)
	cfg.Sync.PeerTimeout = Duration(time.Second)
	cfg.Sync.ProviderTimeout = Duration(10 * time.Second)
	cfg.Sync.PageSize = 256
	cfg.Sync.MaxStep = 1024
	cfg.Sync.MinStep = 1
	cfg.Sync.MaxAttempts = 8
	cfg.Sync.HTTPRetries = 0

	cfg.DataStore.PeerIndexPath = "/tmp/eventnode/peers"
	cfg.DataStore.EventIndexPath = "/tmp/eventnode/events"

	cfg.Discovery.Multicast = false
	cfg.Discovery.MulticastAddr = "224.0.0.1:9645"

	cfg.Metrics.Enabled = true

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	if !c.Node.IsClient && c.Node.ExternalAddr == "" {
		return fmt.Errorf("node.external_addr is required when node.is_client is false")
	}
	if c.Network.ProviderURL != "" && c.Network.ContractAddress == "" {
		return fmt.Errorf("network.contract_address is required with network.provider_url")
	}
	if c.Sync.PageSize == 0 || c.Sync.PageSize > protocol.MaxEventsLength {
		return fmt.Errorf("sync.page_size must be within [1, %d], got %d", protocol.MaxEventsLength, c.Sync.PageSize)
	}
	if c.Sync.MinStep == 0 || c.Sync.MinStep > c.Sync.MaxStep {
		return fmt.Errorf("sync.min_step must be within [1, max_step], got %d", c.Sync.MinStep)
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
