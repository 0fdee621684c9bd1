package commands

import (
	"context"

	"eventnode/config"
	"eventnode/datamodel/event"
	"eventnode/datastore/leveldb"

	log "github.com/sirupsen/logrus"
)

// RunInfo prints the persisted peer registry and event index state.
func RunInfo(ctx context.Context, cfg *config.Config) {
	pidx, err := leveldb.NewPeerIndex(cfg.DataStore.PeerIndexPath)
	if err != nil {
		log.Fatalf("Failed to open peer index: %v", err)
	}
	defer pidx.Close()

	eidx, err := leveldb.NewEventIndex(cfg.DataStore.EventIndexPath)
	if err != nil {
		log.Fatalf("Failed to open event index: %v", err)
	}
	defer eidx.Close()

	peers, elected, err := pidx.Load()
	if err != nil {
		log.Errorf("Failed to load peer index: %v", err)
		return
	}

	log.Infof("Peer index: %d peers known", len(peers))
	for _, p := range peers {
		log.Infof("Peer: %s, block: %d", p.Address, p.CurrentBlock)
	}
	if elected != nil {
		log.Infof("Elected: %s, block: %d", elected.Address, elected.CurrentBlock)
	} else {
		log.Info("Elected: none")
	}

	log.Infof("Event index: %d spend, %d sent events, synced up to block %d",
		eidx.Count(event.KindSpend), eidx.Count(event.KindSent), eidx.SyncedBlock())
}
