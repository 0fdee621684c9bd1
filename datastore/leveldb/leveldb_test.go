package leveldb

import (
	"math/big"
	"path/filepath"
	"testing"

	"eventnode/datamodel/event"
	"eventnode/datamodel/peer"

	"github.com/stretchr/testify/require"
)

func spendAt(block uint64, idx uint) event.SpendEvent {
	return event.SpendEvent{
		Position:  event.Position{BlockNumber: block, TxHash: "0xaa", LogIndex: idx},
		Nullifier: big.NewInt(int64(block*100) + int64(idx)),
	}
}

func TestPeerIndexSaveLoad(t *testing.T) {
	idx, err := NewPeerIndex(filepath.Join(t.TempDir(), "peers"))
	require.NoError(t, err)
	defer idx.Close()

	peers, elected, err := idx.Load()
	require.NoError(t, err)
	require.Empty(t, peers)
	require.Nil(t, elected)

	snapshot := []peer.Peer{
		{Address: "10.0.0.2:8645", CurrentBlock: 7},
		{Address: "10.0.0.1:8645", CurrentBlock: 20},
	}
	require.NoError(t, idx.Save(snapshot, &snapshot[1]))

	peers, elected, err = idx.Load()
	require.NoError(t, err)
	require.Equal(t, snapshot, peers)
	require.Equal(t, snapshot[1], *elected)

	// A shorter snapshot replaces the previous one entirely
	require.NoError(t, idx.Save(snapshot[:1], nil))
	peers, elected, err = idx.Load()
	require.NoError(t, err)
	require.Equal(t, snapshot[:1], peers)
	require.Nil(t, elected)
}

func TestEventIndexAppendAndRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events")
	idx, err := NewEventIndex(path)
	require.NoError(t, err)

	require.NoError(t, idx.AppendSpend([]event.SpendEvent{spendAt(1, 0), spendAt(1, 1), spendAt(3, 0)}))
	// Duplicates, both against the store and within the batch, are skipped
	require.NoError(t, idx.AppendSpend([]event.SpendEvent{spendAt(3, 0), spendAt(4, 0), spendAt(4, 0)}))
	require.EqualValues(t, 4, idx.Count(event.KindSpend))
	require.EqualValues(t, 0, idx.Count(event.KindSent))

	page, err := idx.SpendRange(1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, spendAt(1, 1).Position, page[0].Position)
	require.Equal(t, 0, spendAt(3, 0).Nullifier.Cmp(page[1].Nullifier))

	page, err = idx.SpendRange(4, 256)
	require.NoError(t, err)
	require.Empty(t, page)

	require.NoError(t, idx.SetSyncedBlock(1024))
	require.NoError(t, idx.Close())

	// Sequences and synced block survive a reopen
	idx, err = NewEventIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	require.EqualValues(t, 4, idx.Count(event.KindSpend))
	require.EqualValues(t, 1024, idx.SyncedBlock())

	require.NoError(t, idx.AppendSent([]event.SentEvent{{
		Position:   event.Position{BlockNumber: 9, TxHash: "0xbb"},
		Index:      big.NewInt(0),
		Commitment: big.NewInt(42),
	}}))
	sent, err := idx.SentRange(0, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, "42", sent[0].Commitment.String())
}

func TestSeqKeyRoundTrip(t *testing.T) {
	key := keyFromSeq(keyPrefixSpendSeq, 0xdeadbeef)
	seq, err := seqFromKey(keyPrefixSpendSeq, key)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, seq)

	_, err = seqFromKey(keyPrefixSentSeq, key)
	require.Error(t, err)
}
