package leveldb

import (
	"eventnode/datamodel/peer"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPeer = "PER" // Peer records in registry order. Followed by a 16-digit hexadecimal position
	keyElected    = "ELC" // The elected peer of the latest synchronization round
)

var _ peer.PeerIndex = (*PeerIndex)(nil)

type PeerIndex struct {
	LevelDB
}

func NewPeerIndex(path string) (*PeerIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &PeerIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *PeerIndex) Save(peers []peer.Peer, elected *peer.Peer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)

	// Drop the previous snapshot
	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for i, p := range peers {
		raw, err := cbor.Marshal(p)
		if err != nil {
			return err
		}
		batch.Put(keyFromSeq(keyPrefixPeer, uint64(i)), raw)
	}

	if elected != nil {
		raw, err := cbor.Marshal(elected)
		if err != nil {
			return err
		}
		batch.Put([]byte(keyElected), raw)
	} else {
		batch.Delete([]byte(keyElected))
	}

	return l.db.Write(batch, nil)
}

func (l *PeerIndex) Load() ([]peer.Peer, *peer.Peer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var peers []peer.Peer

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	defer iter.Release()

	for iter.Next() {
		p := peer.Peer{}
		if err := cbor.Unmarshal(iter.Value(), &p); err != nil {
			log.Errorf("PeerIndex.Load: bad record at %x: %v", iter.Key(), err)
			return nil, nil, ErrCorrupted
		}
		peers = append(peers, p)
	}
	if err := iter.Error(); err != nil {
		return nil, nil, err
	}

	raw, err := l.db.Get([]byte(keyElected), nil)
	if err == lerrors.ErrNotFound {
		return peers, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	elected := &peer.Peer{}
	if err := cbor.Unmarshal(raw, elected); err != nil {
		return nil, nil, err
	}

	return peers, elected, nil
}
