/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package remaster_test

import (
	"testing"

	"geotxn/logging"
	"geotxn/remaster"
	"geotxn/storage"
	"geotxn/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*remaster.Manager, *storage.InMemory) {
	t.Helper()
	s := storage.NewInMemory()
	return remaster.New(logging.New("remaster_test"), s), s
}

func holder(id uint64, keys map[txn.Key]txn.KeyAccess, metadata map[txn.Key]txn.KeyMetadata) *remaster.Holder {
	return &remaster.Holder{
		Txn: txn.Transaction{
			ID:       id,
			Keys:     keys,
			Metadata: metadata,
		},
		DeclaredType: txn.SingleHome,
	}
}

func TestCheckCounters(t *testing.T) {
	m, s := newManager(t)
	s.Write("A", txn.Record{MasterRegion: 0, Counter: 1})

	txn1 := holder(100, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}})
	txn2 := holder(200, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 0}})
	txn3 := holder(300, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 2}})

	assert.Equal(t, remaster.Valid, m.VerifyMaster(txn1))
	assert.Equal(t, remaster.Abort, m.VerifyMaster(txn2))
	assert.Equal(t, remaster.Waiting, m.VerifyMaster(txn3))
}

func TestCheckMultipleCounters(t *testing.T) {
	m, s := newManager(t)
	s.Write("A", txn.Record{MasterRegion: 0, Counter: 1})
	s.Write("B", txn.Record{MasterRegion: 0, Counter: 1})

	txn1 := holder(100,
		map[txn.Key]txn.KeyAccess{"A": txn.Write, "B": txn.Write},
		map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}, "B": {MasterRegion: 0, Counter: 1}})
	txn2 := holder(200,
		map[txn.Key]txn.KeyAccess{"A": txn.Write, "B": txn.Write},
		map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 0}, "B": {MasterRegion: 0, Counter: 1}})
	txn3 := holder(300,
		map[txn.Key]txn.KeyAccess{"A": txn.Write, "B": txn.Write},
		map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}, "B": {MasterRegion: 0, Counter: 2}})

	assert.Equal(t, remaster.Valid, m.VerifyMaster(txn1))
	assert.Equal(t, remaster.Abort, m.VerifyMaster(txn2))
	assert.Equal(t, remaster.Waiting, m.VerifyMaster(txn3))
}

func TestBlockLocalLogHeadOfQueueDiscipline(t *testing.T) {
	m, s := newManager(t)
	s.Write("A", txn.Record{MasterRegion: 0, Counter: 1})
	s.Write("B", txn.Record{MasterRegion: 0, Counter: 1})

	txn1 := holder(100, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 2}})
	txn2 := holder(200, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}})
	txn3 := holder(300, map[txn.Key]txn.KeyAccess{"B": txn.Write}, map[txn.Key]txn.KeyMetadata{"B": {MasterRegion: 0, Counter: 1}})

	assert.Equal(t, remaster.Waiting, m.VerifyMaster(txn1))
	// txn2's declared counter matches storage, but it still waits
	// because it cannot pass txn1 at the head of A's queue.
	assert.Equal(t, remaster.Waiting, m.VerifyMaster(txn2))
	assert.Equal(t, remaster.Valid, m.VerifyMaster(txn3))
}

func TestRemasterOccurredUnblocksAndAborts(t *testing.T) {
	m, s := newManager(t)
	s.Write("A", txn.Record{MasterRegion: 0, Counter: 1})

	txn1 := holder(100, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 2}})
	txn2 := holder(200, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}})

	require.Equal(t, remaster.Waiting, m.VerifyMaster(txn1))
	require.Equal(t, remaster.Waiting, m.VerifyMaster(txn2))

	s.Write("A", txn.Record{MasterRegion: 0, Counter: 2})
	result := m.RemasterOccurred("A", 2)

	assert.Equal(t, []*remaster.Holder{txn1}, result.Unblocked)
	assert.Equal(t, []*remaster.Holder{txn2}, result.ShouldAbort)
}

func TestReleaseTransaction(t *testing.T) {
	m, s := newManager(t)
	s.Write("A", txn.Record{MasterRegion: 0, Counter: 1})
	s.Write("B", txn.Record{MasterRegion: 0, Counter: 1})

	txn1 := holder(100, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 2}})
	txn2 := holder(200, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}})
	txn3 := holder(300, map[txn.Key]txn.KeyAccess{"A": txn.Write}, map[txn.Key]txn.KeyMetadata{"A": {MasterRegion: 0, Counter: 1}})

	require.Equal(t, remaster.Waiting, m.VerifyMaster(txn1))
	require.Equal(t, remaster.Waiting, m.VerifyMaster(txn2))

	result := m.ReleaseTransaction(txn3)
	assert.Empty(t, result.Unblocked)
	assert.Empty(t, result.ShouldAbort)

	result = m.ReleaseTransaction(txn1)
	assert.Empty(t, result.ShouldAbort)
	assert.Equal(t, []*remaster.Holder{txn2}, result.Unblocked)
}

func TestMissingMetadataForAccessedKeyIsFatal(t *testing.T) {
	m, _ := newManager(t)
	h := holder(100, map[txn.Key]txn.KeyAccess{"A": txn.Read, "B": txn.Write}, map[txn.Key]txn.KeyMetadata{"B": {MasterRegion: 0, Counter: 1}})
	assert.Panics(t, func() {
		m.VerifyMaster(h)
	})
}

func TestDeclaredSingleHomeWithDisagreeingMastersIsFatal(t *testing.T) {
	m, _ := newManager(t)
	h := &remaster.Holder{
		Txn: txn.Transaction{
			ID:   100,
			Keys: map[txn.Key]txn.KeyAccess{"A": txn.Write, "B": txn.Write},
			Metadata: map[txn.Key]txn.KeyMetadata{
				"A": {MasterRegion: 0, Counter: 1},
				"B": {MasterRegion: 1, Counter: 1},
			},
		},
		DeclaredType: txn.SingleHome,
	}
	assert.Panics(t, func() {
		m.VerifyMaster(h)
	})
}
