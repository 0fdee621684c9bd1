package leveldb

import (
	"encoding/binary"
	"fmt"

	"eventnode/datamodel/event"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixSpendSeq = "SPD" // Spend events by local sequence number. Followed by a 16-digit hexadecimal sequence number
	keyPrefixSentSeq  = "SNT" // Sent events by local sequence number. Followed by a 16-digit hexadecimal sequence number
	keyPrefixSpendPos = "SPP" // Spend event presence by chain position. Followed by event.Position.Key()
	keyPrefixSentPos  = "SNP" // Sent event presence by chain position. Followed by event.Position.Key()
	keySyncedBlock    = "BLK" // Block up to which (exclusive) events were ingested
)

var _ event.EventIndex = (*EventIndex)(nil)

type EventIndex struct {
	LevelDB
	spendCount  uint64
	sentCount   uint64
	syncedBlock uint64
}

func NewEventIndex(path string) (*EventIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	idx := &EventIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}

	// Scan the database to identify the sequences
	if idx.spendCount, err = nextSeq(ldb, keyPrefixSpendSeq); err != nil {
		return nil, err
	}
	if idx.sentCount, err = nextSeq(ldb, keyPrefixSentSeq); err != nil {
		return nil, err
	}

	raw, err := ldb.Get([]byte(keySyncedBlock), nil)
	switch {
	case err == nil && len(raw) == 8:
		idx.syncedBlock = binary.BigEndian.Uint64(raw)
	case err == nil:
		return nil, ErrCorrupted
	case err != lerrors.ErrNotFound:
		return nil, err
	}

	log.Infof("EventIndex: %d spend, %d sent events, synced up to block %d", idx.spendCount, idx.sentCount, idx.syncedBlock)

	return idx, nil
}

// nextSeq returns the sequence number following the last stored key with the given prefix.
func nextSeq(db *leveldb.DB, prefix string) (uint64, error) {
	iter := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	if !iter.Last() {
		return 0, iter.Error()
	}
	seq, err := seqFromKey(prefix, iter.Key())
	if err != nil {
		return 0, err
	}
	return seq + 1, nil
}

func appendEvents[T any](db *leveldb.DB, seqPrefix, posPrefix string, count *uint64, events []T, pos func(T) event.Position) error {
	batch := new(leveldb.Batch)
	next := *count
	seen := make(map[string]bool)

	for _, e := range events {
		posKey := append([]byte(posPrefix), []byte(pos(e).Key())...)
		if seen[string(posKey)] {
			continue
		}
		has, err := db.Has(posKey, nil)
		if err != nil {
			return err
		}
		if has {
			log.Debugf("EventIndex: %s already stored, skipping", pos(e).Key())
			continue
		}
		seen[string(posKey)] = true

		raw, err := cbor.Marshal(e)
		if err != nil {
			return err
		}
		batch.Put(keyFromSeq(seqPrefix, next), raw)
		batch.Put(posKey, nil)
		next++
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := db.Write(batch, nil); err != nil {
		return err
	}

	*count = next
	return nil
}

func rangeEvents[T any](db *leveldb.DB, seqPrefix string, start, length uint64) ([]T, error) {
	if start+length < start {
		return nil, fmt.Errorf("rangeEvents: range overflow: start %d, length %d", start, length)
	}

	var results []T

	iter := db.NewIterator(&util.Range{Start: keyFromSeq(seqPrefix, start), Limit: keyFromSeq(seqPrefix, start+length)}, nil)
	defer iter.Release()

	for iter.Next() {
		var e T
		if err := cbor.Unmarshal(iter.Value(), &e); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, iter.Error()
}

func (l *EventIndex) AppendSpend(events []event.SpendEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendEvents(l.db, keyPrefixSpendSeq, keyPrefixSpendPos, &l.spendCount, events, func(e event.SpendEvent) event.Position { return e.Position })
}

func (l *EventIndex) AppendSent(events []event.SentEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendEvents(l.db, keyPrefixSentSeq, keyPrefixSentPos, &l.sentCount, events, func(e event.SentEvent) event.Position { return e.Position })
}

func (l *EventIndex) SpendRange(start, length uint64) ([]event.SpendEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return rangeEvents[event.SpendEvent](l.db, keyPrefixSpendSeq, start, length)
}

func (l *EventIndex) SentRange(start, length uint64) ([]event.SentEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return rangeEvents[event.SentEvent](l.db, keyPrefixSentSeq, start, length)
}

func (l *EventIndex) Count(kind event.Kind) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case event.KindSpend:
		return l.spendCount
	case event.KindSent:
		return l.sentCount
	default:
		return 0
	}
}

func (l *EventIndex) SyncedBlock() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syncedBlock
}

func (l *EventIndex) SetSyncedBlock(block uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, block)
	if err := l.db.Put([]byte(keySyncedBlock), raw, nil); err != nil {
		return err
	}
	l.syncedBlock = block
	return nil
}
