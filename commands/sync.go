package commands

import (
	"context"
	"errors"

	"eventnode/config"
	"eventnode/swarm/node"

	log "github.com/sirupsen/logrus"
)

// RunSync performs one handshake round followed by one event sync and exits.
func RunSync(ctx context.Context, cfg *config.Config) {
	s, err := openStack(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up node: %v", err)
	}
	defer s.Close()

	round, err := s.node.SyncWithPeers(ctx)
	if err != nil {
		log.Errorf("Handshake round failed: %v", err)
		return
	}

	log.Infof("Round: %d contacts, %d handshakes in %v", len(round.Contacts), round.Handshakes(), round.Duration)
	for kind, count := range round.Failures() {
		log.Infof("  %s failures: %d", kind, count)
	}
	if round.Elected != nil {
		log.Infof("  elected: %s", round.Elected)
	}

	report, err := s.node.SyncEvents(ctx)
	switch {
	case errors.Is(err, node.ErrNotConfigured):
		log.Warnf("Event sync skipped: %v", err)
		return
	case err != nil:
		log.Errorf("Event sync failed: %v", err)
	}
	if report != nil {
		log.Infof("Events from %s: %d spend, %d sent, synced up to block %d", report.Source, report.Spend, report.Sent, report.Synced)
	}
}
