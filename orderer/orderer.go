/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package orderer implements the MultiHomeOrderer: it runs on the elected
// leader partition for multi-home ordering in each region, accumulates
// multi-home transactions, cuts a batch on every tick, proposes the
// batch's id to the global consensus collaborator, and replicates the
// batch's content to every region's ordering leader. Grounded on
// original_source/module/multi_home_orderer.cpp, translating its
// HandleInternalRequest switch over request->type_case() into a Go
// select/type-switch event loop.
package orderer

import (
	"context"
	"time"

	"geotxn/batchlog"
	"geotxn/config"
	"geotxn/logging"
	"geotxn/metrics"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"
)

// Transport is the subset of transport.Transport/Receiver the orderer
// depends on.
type Transport interface {
	transport.Transport
	Subscribe(channel config.Channel) <-chan transport.Delivery
}

// MultiHomeOrderer is a single-threaded module: Run must be driven from
// its own goroutine, and every other method here is only ever called
// from that goroutine's select loop.
type MultiHomeOrderer struct {
	logger    logging.Logger
	cfg       *config.Configuration
	transport Transport
	counter   *txn.BatchIdCounter

	batchLog     *batchlog.BatchLog
	currentBatch txn.Batch

	metrics *metrics.Ordering
}

// WithMetrics attaches counters the orderer publishes batch-cutting
// activity through. Safe to leave unset; every call site is nil-checked.
func (o *MultiHomeOrderer) WithMetrics(m *metrics.Ordering) *MultiHomeOrderer {
	o.metrics = m
	return o
}

// New constructs a MultiHomeOrderer for the local region. cfg.LocalMachineID
// must be the multi-home ordering leader machine for its region.
func New(logger logging.Logger, cfg *config.Configuration, tr Transport) *MultiHomeOrderer {
	o := &MultiHomeOrderer{
		logger:    logger,
		cfg:       cfg,
		transport: tr,
		counter:   txn.NewBatchIdCounter(txn.MachineId(cfg.LocalMachineID)),
		batchLog:  batchlog.New(),
	}
	o.resetBatch()
	return o
}

func (o *MultiHomeOrderer) resetBatch() {
	o.currentBatch = txn.Batch{TransactionType: txn.MultiHome}
}

// Run is the module's event loop: it multiplexes the multi-home-orderer
// inbound channel, the global-paxos inbound channel, and a periodic tick,
// exactly the "single select per module" translation of the corpus's
// socket-multiplexing loop.
func (o *MultiHomeOrderer) Run(ctx context.Context) error {
	inbound := o.transport.Subscribe(config.MultiHomeOrdererChannel)
	paxos := o.transport.Subscribe(config.GlobalPaxosChannel)

	ticker := time.NewTicker(time.Duration(o.cfg.TickPeriodMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-inbound:
			if !ok {
				return nil
			}
			o.handleInbound(d)
		case d, ok := <-paxos:
			if !ok {
				return nil
			}
			o.handlePaxosNotify(d)
		case <-ticker.C:
			o.onTick()
		}
	}
}

func (o *MultiHomeOrderer) handleInbound(d transport.Delivery) {
	switch d.Envelope.Kind {
	case wire.KindForwardTxn:
		o.currentBatch.Transactions = append(o.currentBatch.Transactions, d.Envelope.ForwardTxn.Txn)
	case wire.KindForwardBatchData:
		fb := d.Envelope.ForwardBatchData
		o.batchLog.AddBatch(fb.Batch)
		o.drainBatchLog()
	default:
		o.logger.Warnf("unexpected request type received on multi-home orderer channel: %v", d.Envelope.Kind)
	}
}

func (o *MultiHomeOrderer) handlePaxosNotify(d transport.Delivery) {
	if d.Envelope.Kind != wire.KindPaxosNotify {
		o.logger.Warnf("unexpected request type received on global paxos channel: %v", d.Envelope.Kind)
		return
	}
	notify := d.Envelope.PaxosNotify
	batchID := decodeBatchID(notify.Value)
	o.batchLog.AddSlot(notify.Slot, batchID)
	o.drainBatchLog()
}

// onTick seals the current batch if it is non-empty, submits a consensus
// proposal carrying its id, replicates its content to every region's
// ordering leader, and installs a fresh empty batch.
func (o *MultiHomeOrderer) onTick() {
	if len(o.currentBatch.Transactions) == 0 {
		return
	}

	batchID := o.counter.Next()
	o.currentBatch.Id = batchID

	o.logger.Debugf("finished multi-home batch %d, sending out for ordering and replicating", batchID)
	if o.metrics != nil {
		o.metrics.MultiHomeBatchesCut.Add(1)
	}

	o.transport.SendLocal(wire.NewPaxosPropose(encodeBatchID(batchID)), config.GlobalPaxosChannel)

	part := o.cfg.LeaderPartitionForMultiHomeOrdering
	for rep := uint32(0); rep < o.cfg.NumReplicas; rep++ {
		machineID := txn.MachineId(o.cfg.MakeMachineId(rep, part))
		o.transport.Send(wire.NewForwardBatchData(o.currentBatch, 0), machineID, config.MultiHomeOrdererChannel)
	}

	o.resetBatch()
}

// drainBatchLog flattens every releasable batch into individual
// transactions, dispatched to the scheduler in slot order. The BatchLog's
// own heap already totally orders multi-home batches by their
// consensus-assigned slot, so unlike single-home batches there is no
// further per-queue reordering to do before handing off to the scheduler.
func (o *MultiHomeOrderer) drainBatchLog() {
	for o.batchLog.HasNextBatch() {
		release := o.batchLog.NextBatch()
		for _, t := range release.Batch.Transactions {
			o.transport.SendLocal(wire.NewForwardTxn(t), config.SchedulerChannel)
		}
	}
}

func encodeBatchID(id txn.BatchId) []byte {
	var buf [8]byte
	v := uint64(id)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
	return buf[:]
}

func decodeBatchID(raw []byte) txn.BatchId {
	var v uint64
	for i := 0; i < 8 && i < len(raw); i++ {
		v = v<<8 | uint64(raw[i])
	}
	return txn.BatchId(v)
}
