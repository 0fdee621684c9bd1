package commands

import (
	"context"
	"fmt"

	"eventnode/chain"
	"eventnode/config"
	"eventnode/datastore/leveldb"
	"eventnode/swarm/client"
	"eventnode/swarm/node"
	"eventnode/swarm/registry"

	log "github.com/sirupsen/logrus"
)

// stack is a node together with the resources that must be released after use.
type stack struct {
	node     *node.Node
	events   *leveldb.EventIndex
	peers    *leveldb.PeerIndex
	contract *chain.Contract
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	s := &stack{}

	var err error
	if s.events, err = leveldb.NewEventIndex(cfg.DataStore.EventIndexPath); err != nil {
		return nil, fmt.Errorf("open event index: %w", err)
	}
	if s.peers, err = leveldb.NewPeerIndex(cfg.DataStore.PeerIndexPath); err != nil {
		s.Close()
		return nil, fmt.Errorf("open peer index: %w", err)
	}

	reg := registry.New(cfg.Node.ExternalAddr, cfg.Node.IsClient)
	c := client.New(
		client.WithTimeout(cfg.Sync.PeerTimeout.Std()),
		client.WithRetries(cfg.Sync.HTTPRetries),
	)
	s.node = node.New(cfg, reg, c, s.events, s.peers)

	if cfg.Network.ProviderURL != "" {
		s.contract, err = chain.Dial(ctx, cfg.Network.ProviderURL, cfg.Network.ContractAddress, cfg.Network.ContractABIPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bind %s contract: %w", cfg.Network.Name, err)
		}
		s.node.SetProviderNetwork(s.contract)
	} else {
		log.Warnf("No provider configured for %s, events can only come from peers", cfg.Network.Name)
	}

	return s, nil
}

func (s *stack) Close() {
	if s.contract != nil {
		s.contract.Close()
	}
	if s.peers != nil {
		if err := s.peers.Close(); err != nil {
			log.Errorf("Failed to close peer index: %v", err)
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			log.Errorf("Failed to close event index: %v", err)
		}
	}
}
