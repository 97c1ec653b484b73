/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package locallog implements the LocalLog: it merges per-queue
// (position -> batch_id) arrivals with (slot, queue_id, leader) slot
// assignments into one deterministic, slot-ordered stream, tolerating
// either side arriving first in any order.
package locallog

import (
	"container/heap"

	"geotxn/txn"

	"github.com/cockroachdb/errors"
)

// Release is a single released (slot, batch_id, leader) triple.
type Release struct {
	Slot    txn.Slot
	BatchId txn.BatchId
	Leader  txn.MachineId
}

type slotEntry struct {
	slot    txn.Slot
	queueID txn.QueueId
	leader  txn.MachineId
}

// slotHeap orders pending slot assignments by slot, smallest first.
type slotHeap []slotEntry

func (h slotHeap) Len() int            { return len(h) }
func (h slotHeap) Less(i, j int) bool  { return h[i].slot < h[j].slot }
func (h slotHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *slotHeap) Push(x interface{}) { *h = append(*h, x.(slotEntry)) }
func (h *slotHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// LocalLog merges arrivals of (queue_id, position, batch_id) with slot
// assignments (slot, queue_id, leader) into a single stream ordered by
// slot. It is not safe for concurrent use; callers run it from a single
// module goroutine, per the actor-per-component model.
type LocalLog struct {
	batchByQueuePos map[txn.QueueId]map[uint32]txn.BatchId
	nextPosition    map[txn.QueueId]uint32
	pendingSlots    slotHeap
	nextSlot        txn.Slot
}

// New constructs an empty LocalLog.
func New() *LocalLog {
	return &LocalLog{
		batchByQueuePos: make(map[txn.QueueId]map[uint32]txn.BatchId),
		nextPosition:    make(map[txn.QueueId]uint32),
	}
}

// AddBatchId records the arrival of batchID at (queueID, position). A
// duplicate (queueID, position) is a programmer error: fail fast.
func (l *LocalLog) AddBatchId(queueID txn.QueueId, position uint32, batchID txn.BatchId) {
	byPos, ok := l.batchByQueuePos[queueID]
	if !ok {
		byPos = make(map[uint32]txn.BatchId)
		l.batchByQueuePos[queueID] = byPos
	}
	if _, exists := byPos[position]; exists {
		panic(errors.AssertionFailedf("duplicate batch arrival for queue %d position %d", queueID, position))
	}
	byPos[position] = batchID
}

// AddSlot records that slot was assigned to queueID by leader. A duplicate
// slot is a programmer error: fail fast.
func (l *LocalLog) AddSlot(slot txn.Slot, queueID txn.QueueId, leader txn.MachineId) {
	for _, e := range l.pendingSlots {
		if e.slot == slot {
			panic(errors.AssertionFailedf("duplicate slot %d", slot))
		}
	}
	heap.Push(&l.pendingSlots, slotEntry{slot: slot, queueID: queueID, leader: leader})
}

// HasNextBatch reports whether the entry for nextSlot exists and its
// queue has an arrived batch at the position that queue is expecting
// next.
func (l *LocalLog) HasNextBatch() bool {
	if len(l.pendingSlots) == 0 {
		return false
	}
	top := l.pendingSlots[0]
	if top.slot != l.nextSlot {
		return false
	}
	pos := l.nextPosition[top.queueID]
	_, ok := l.batchByQueuePos[top.queueID][pos]
	return ok
}

// NextBatch returns and consumes the release for nextSlot, advancing
// nextSlot and the per-queue position. Callers must check HasNextBatch
// first.
func (l *LocalLog) NextBatch() Release {
	if !l.HasNextBatch() {
		panic(errors.AssertionFailedf("NextBatch called with no releasable batch"))
	}
	top := heap.Pop(&l.pendingSlots).(slotEntry)
	pos := l.nextPosition[top.queueID]
	batchID := l.batchByQueuePos[top.queueID][pos]
	delete(l.batchByQueuePos[top.queueID], pos)
	l.nextPosition[top.queueID] = pos + 1
	l.nextSlot++
	return Release{Slot: top.slot, BatchId: batchID, Leader: top.leader}
}
