/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package remaster implements the RemasterManager: it gates transactions
// on per-key mastership counters, classifying each as VALID, WAITING, or
// ABORT, and unblocks queued transactions as remaster events advance
// those counters. Grounded on the corpus's simple_remaster_manager_test.go
// scenarios (ValidateMetadata/CheckCounters/CheckMultipleCounters/
// BlockLocalLog/RemasterUnblocks/ReleaseTransaction).
package remaster

import (
	"geotxn/logging"
	"geotxn/storage"
	"geotxn/txn"

	"github.com/cockroachdb/errors"
)

// Verdict is the outcome of verifying a transaction's declared mastership
// against storage.
type Verdict int

const (
	Valid Verdict = iota
	Waiting
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "VALID"
	case Waiting:
		return "WAITING"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Holder wraps a transaction with the type its originator declared it as
// before this core recomputed its effective home. A SingleHome
// declaration whose metadata keys disagree on master is a programmer
// error (see VerifyMaster), distinct from the key-level declared-vs-
// stored counter mismatches that simply yield ABORT.
type Holder struct {
	Txn          txn.Transaction
	DeclaredType txn.TransactionType
}

// Result carries the transactions a remaster event or release made
// progress on: those that became runnable, and those that can no longer
// run and must be completed with an abort outcome.
type Result struct {
	Unblocked   []*Holder
	ShouldAbort []*Holder
}

type keyStatus int

const (
	keyValid keyStatus = iota
	keyWaiting
	keyAbort
)

// Manager is the per-scheduler RemasterManager. It is not safe for
// concurrent use: callers run VerifyMaster/RemasterOccurred/
// ReleaseTransaction from the single module goroutine that owns it.
type Manager struct {
	logger  logging.Logger
	storage storage.Reader
	blocked map[txn.Key][]*Holder
}

// New constructs a RemasterManager reading mastership tags from reader.
func New(logger logging.Logger, reader storage.Reader) *Manager {
	return &Manager{
		logger:  logger,
		storage: reader,
		blocked: make(map[txn.Key][]*Holder),
	}
}

// VerifyMaster classifies h against the current storage view, enqueuing
// it on every key it is waiting on when the verdict is WAITING.
func (m *Manager) VerifyMaster(h *Holder) Verdict {
	m.checkDeclarationConsistency(h)

	statuses := m.classify(h)
	switch overall(statuses) {
	case keyAbort:
		return Abort
	case keyWaiting:
		for key, status := range statuses {
			if status == keyWaiting {
				m.blocked[key] = append(m.blocked[key], h)
			}
		}
		return Waiting
	default:
		return Valid
	}
}

// RemasterOccurred is called by the scheduler when the executor reports
// that it advanced key's mastership counter to newCounter in storage;
// newCounter itself is not consulted, storage is re-read. It walks key's blocked
// queue from the head, re-verifying each leading transaction: VALID
// transactions move to Unblocked (and are removed from every key they
// were queued on); ABORT transactions move to ShouldAbort (same
// removal); the scan stops at the first transaction still WAITING.
func (m *Manager) RemasterOccurred(key txn.Key, newCounter uint64) Result {
	return m.drain(key)
}

// ReleaseTransaction removes h from every key's blocked queue regardless
// of its current classification, then re-scans the head of each of
// those keys.
func (m *Manager) ReleaseTransaction(h *Holder) Result {
	keys := make([]txn.Key, 0, len(h.Txn.Metadata))
	for key := range h.Txn.Metadata {
		keys = append(keys, key)
	}
	m.removeFromAllQueues(h)

	var result Result
	for _, key := range keys {
		r := m.drain(key)
		result.Unblocked = append(result.Unblocked, r.Unblocked...)
		result.ShouldAbort = append(result.ShouldAbort, r.ShouldAbort...)
	}
	return result
}

// drain walks key's blocked queue from the head, moving VALID/ABORT
// heads out and stopping at the first still-WAITING transaction.
func (m *Manager) drain(key txn.Key) Result {
	var result Result
	for {
		queue := m.blocked[key]
		if len(queue) == 0 {
			return result
		}
		head := queue[0]
		switch overall(m.classify(head)) {
		case keyValid:
			m.removeFromAllQueues(head)
			result.Unblocked = append(result.Unblocked, head)
		case keyAbort:
			m.removeFromAllQueues(head)
			result.ShouldAbort = append(result.ShouldAbort, head)
		default:
			return result
		}
	}
}

// classify computes the per-key status of h against the current storage
// view and blocked-queue state.
func (m *Manager) classify(h *Holder) map[txn.Key]keyStatus {
	statuses := make(map[txn.Key]keyStatus, len(h.Txn.Metadata))
	for key, declared := range h.Txn.Metadata {
		statuses[key] = m.classifyKey(h, key, declared)
	}
	return statuses
}

func (m *Manager) classifyKey(h *Holder, key txn.Key, declared txn.KeyMetadata) keyStatus {
	rec, _ := m.storage.Read(key)
	if rec.Counter > declared.Counter || rec.MasterRegion != declared.MasterRegion {
		return keyAbort
	}
	if rec.Counter < declared.Counter {
		return keyWaiting
	}
	queue := m.blocked[key]
	if len(queue) == 0 || queue[0] == h {
		return keyValid
	}
	return keyWaiting
}

func overall(statuses map[txn.Key]keyStatus) keyStatus {
	waiting := false
	for _, status := range statuses {
		if status == keyAbort {
			return keyAbort
		}
		if status == keyWaiting {
			waiting = true
		}
	}
	if waiting {
		return keyWaiting
	}
	return keyValid
}

func (m *Manager) removeFromAllQueues(h *Holder) {
	for key := range h.Txn.Metadata {
		queue := m.blocked[key]
		for i, candidate := range queue {
			if candidate == h {
				m.blocked[key] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
	}
}

// checkDeclarationConsistency halts the process when h's declaration is
// internally inconsistent: a key it accesses carries no metadata, or it
// was declared single-home yet its keys disagree on master.
func (m *Manager) checkDeclarationConsistency(h *Holder) {
	for key := range h.Txn.Keys {
		if _, ok := h.Txn.Metadata[key]; !ok {
			m.fatalf("transaction %d accesses key %q with no declared mastership metadata", h.Txn.ID, key)
		}
	}
	if h.DeclaredType == txn.SingleHome && txn.IsMultiHome(&h.Txn) {
		m.fatalf("transaction %d declared single-home but its keys disagree on master", h.Txn.ID)
	}
}

func (m *Manager) fatalf(format string, args ...interface{}) {
	err := errors.AssertionFailedf(format, args...)
	m.logger.Panicf("%v", err)
}
