/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package txn defines the data model shared by every module in the
// ordering core: BatchId/MachineId encoding, the Batch and Transaction
// shapes, and the storage Record. None of these types are ever mutated
// once a transaction enters a batch.
package txn

import "geotxn/config"

// BatchId is a 64-bit value encoding both a strictly increasing counter
// and the originating machine, so that batches cut concurrently at
// different machines never collide without any coordination between them.
type BatchId uint64

// MachineId identifies a single process in the topology.
type MachineId uint64

// Slot is a position in a consensus log, either global (multi-home
// ordering) or local (per-queue single-home ordering).
type Slot uint32

// QueueId identifies a per-originator stream feeding a LocalLog. Each
// queue has its own monotonic position sequence.
type QueueId uint64

// KeyAccess is READ or WRITE, the access mode declared for one key.
type KeyAccess int

const (
	Read KeyAccess = iota
	Write
)

// Key is an opaque identifier for a record in the external key-value
// store. The core never interprets its contents.
type Key string

// KeyMetadata is the mastership the originator declared for one key at
// the time the transaction was constructed: the region it believes masters
// the key, and the counter it believes is current.
type KeyMetadata struct {
	MasterRegion uint32
	Counter      uint64
}

// Transaction is opaque to the ordering core beyond the fields it needs to
// route and gate it: the set of keys it touches, and the mastership it
// declares for each.
type Transaction struct {
	// ID identifies the transaction for logging and dedup; the core does
	// not interpret it beyond equality.
	ID uint64
	// Keys maps every key the transaction accesses to its access mode.
	Keys map[Key]KeyAccess
	// Code is the ordered list of opaque operations the executor will
	// run; the core never inspects it.
	Code [][]byte
	// Metadata is the mastership declared per key at construction time.
	Metadata map[Key]KeyMetadata
}

// TransactionType distinguishes batches whose transactions all master
// their keys in one region from those spanning multiple regions.
type TransactionType int

const (
	SingleHome TransactionType = iota
	MultiHome
)

// Batch is a totally ordered group of transactions cut by one originator
// and assigned a globally unique BatchId once sealed.
type Batch struct {
	Id              BatchId
	TransactionType TransactionType
	Transactions    []Transaction
	// SameOriginPosition is the monotonic index the originator assigns
	// the batch within its own queue, so the LocalLog can reorder
	// out-of-sequence arrivals from that queue back into order.
	SameOriginPosition uint32
}

// EffectiveHome reports whether txn is effectively multi-home: not by the
// caller's initial classification, but recomputed from the final
// per-key home assignment. A transaction is multi-home iff any two of its
// declared key homes differ; a transaction touching a single key, or
// every key mastered in the same region, is single-home.
func EffectiveHome(t *Transaction) TransactionType {
	if IsMultiHome(t) {
		return MultiHome
	}
	return SingleHome
}

// IsMultiHome reports whether t's declared key homes disagree. See
// EffectiveHome.
func IsMultiHome(t *Transaction) bool {
	first := true
	var home uint32
	for _, md := range t.Metadata {
		if first {
			home = md.MasterRegion
			first = false
			continue
		}
		if md.MasterRegion != home {
			return true
		}
	}
	return false
}

// Record is the value a storage engine returns for a key: the current
// value alongside its mastership tag.
type Record struct {
	Value        []byte
	MasterRegion uint32
	Counter      uint64
}

// BatchIdCounter mints globally unique BatchIds for batches originated by
// one machine, without any coordination with other machines: the counter
// only ever increases locally, and the machine id distinguishes it from
// every other machine's counter.
type BatchIdCounter struct {
	machineID MachineId
	counter   uint64
}

// NewBatchIdCounter constructs a counter that will mint BatchIds
// attributed to machineID.
func NewBatchIdCounter(machineID MachineId) *BatchIdCounter {
	return &BatchIdCounter{machineID: machineID}
}

// Next mints the next BatchId for this machine.
func (c *BatchIdCounter) Next() BatchId {
	c.counter++
	return BatchId(c.counter*config.MaxMachines + uint64(c.machineID))
}

// MachineOf recovers the originating machine from a BatchId minted by Next.
func MachineOf(id BatchId) MachineId {
	return MachineId(uint64(id) % config.MaxMachines)
}
