package commands

import (
	"context"

	"eventnode/config"
	"eventnode/net/mpubsub"
	"eventnode/swarm/server"

	log "github.com/sirupsen/logrus"
)

// RunServe runs the node until ctx is cancelled: the peer API, the periodic
// sync and, when enabled, LAN announcements.
func RunServe(ctx context.Context, cfg *config.Config) {
	s, err := openStack(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up node: %v", err)
	}
	defer s.Close()

	srv, err := server.New(cfg.Node.ListenAddr, s.node, cfg.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.Node.ListenAddr, err)
	}
	s.node.Server = srv
	log.Infof("Peer API listening on %s", srv.Addr())

	if cfg.Discovery.Multicast {
		ps, err := mpubsub.Join(cfg.Discovery.MulticastAddr)
		if err != nil {
			log.Fatalf("Failed to join multicast group: %v", err)
		}
		defer ps.Close()
		s.node.PubSub = ps
	}

	if err := s.node.Run(ctx); err != nil {
		log.Errorf("Node stopped: %v", err)
		return
	}
	log.Info("Node stopped")
}
