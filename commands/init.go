package commands

import (
	"context"
	"os"
	"path/filepath"

	"eventnode/config"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a config file with default settings, adjusted by the init flags.
func RunInit(ctx context.Context, cfg *config.Config, externalAddr, providerURL, contract string) {
	if externalAddr != "" {
		cfg.Node.IsClient = false
		cfg.Node.ExternalAddr = externalAddr
	}
	if providerURL != "" {
		cfg.Network.ProviderURL = providerURL
		cfg.Network.ContractAddress = contract
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	for _, dir := range []string{cfg.DataStore.PeerIndexPath, cfg.DataStore.EventIndexPath} {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
}
