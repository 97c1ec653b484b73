/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package batchlog implements the BatchLog: a two-sided queue that
// releases multi-home batches in slot order once both the batch's
// content and its consensus-assigned slot have arrived, regardless of
// which arrives first.
package batchlog

import (
	"container/heap"

	"geotxn/txn"

	"github.com/cockroachdb/errors"
)

type slotEntry struct {
	slot    txn.Slot
	batchID txn.BatchId
}

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

// Release is a single released (slot, batch) pair.
type Release struct {
	Slot  txn.Slot
	Batch txn.Batch
}

// BatchLog holds multi-home batches by id until both their content
// (AddBatch) and their consensus slot (AddSlot) are known, then releases
// them strictly in slot order.
type BatchLog struct {
	batchesByID  map[txn.BatchId]txn.Batch
	pendingSlots slotHeap
	nextSlot     txn.Slot
}

// New constructs an empty BatchLog.
func New() *BatchLog {
	return &BatchLog{batchesByID: make(map[txn.BatchId]txn.Batch)}
}

// AddBatch stores batch content by its BatchId. A duplicate batch id is a
// programmer error: fail fast.
func (b *BatchLog) AddBatch(batch txn.Batch) {
	if _, exists := b.batchesByID[batch.Id]; exists {
		panic(errors.AssertionFailedf("duplicate batch %d", batch.Id))
	}
	b.batchesByID[batch.Id] = batch
}

// AddSlot records that slot was assigned to batchID by consensus. A
// duplicate slot is a programmer error: fail fast.
func (b *BatchLog) AddSlot(slot txn.Slot, batchID txn.BatchId) {
	for _, e := range b.pendingSlots {
		if e.slot == slot {
			panic(errors.AssertionFailedf("duplicate slot %d", slot))
		}
	}
	heap.Push(&b.pendingSlots, slotEntry{slot: slot, batchID: batchID})
}

// HasNextBatch reports whether the batch assigned to nextSlot has had its
// content arrive.
func (b *BatchLog) HasNextBatch() bool {
	if len(b.pendingSlots) == 0 {
		return false
	}
	top := b.pendingSlots[0]
	if top.slot != b.nextSlot {
		return false
	}
	_, ok := b.batchesByID[top.batchID]
	return ok
}

// NextBatch returns and consumes the release for nextSlot, advancing
// nextSlot. Callers must check HasNextBatch first.
func (b *BatchLog) NextBatch() Release {
	if !b.HasNextBatch() {
		panic(errors.AssertionFailedf("NextBatch called with no releasable batch"))
	}
	top := heap.Pop(&b.pendingSlots).(slotEntry)
	batch := b.batchesByID[top.batchID]
	delete(b.batchesByID, top.batchID)
	b.nextSlot++
	return Release{Slot: top.slot, Batch: batch}
}
