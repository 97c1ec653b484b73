/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sequencer implements the single-home counterpart to the
// multi-home orderer: it runs once per partition, assigns every
// single-home batch it cuts a position in its own queue, proposes that
// batch's id to the local consensus collaborator, and replicates
// the batch content to every region's Interleaver for this partition so
// each can release it, in position order, once its own local paxos
// leader assigns the batch a slot. Grounded on the same tick-driven
// batch-cutting and replicate-to-every-region shape as orderer, and on
// original_source/module/multi_home_orderer.cpp's single-home sibling
// referenced by the data model's "per-partition LocalLog" design.
package sequencer

import (
	"context"
	"time"

	"geotxn/config"
	"geotxn/logging"
	"geotxn/metrics"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"
)

// Transport is the subset of transport.Transport/Receiver the sequencer
// depends on.
type Transport interface {
	transport.Transport
	Subscribe(channel config.Channel) <-chan transport.Delivery
}

// Sequencer is a single-threaded module driven from its own goroutine.
type Sequencer struct {
	logger    logging.Logger
	cfg       *config.Configuration
	transport Transport
	counter   *txn.BatchIdCounter

	nextPosition uint32
	currentBatch txn.Batch

	metrics *metrics.Ordering
}

// WithMetrics attaches counters the sequencer publishes batch-cutting
// activity through. Safe to leave unset.
func (s *Sequencer) WithMetrics(m *metrics.Ordering) *Sequencer {
	s.metrics = m
	return s
}

// New constructs a Sequencer for the local partition.
func New(logger logging.Logger, cfg *config.Configuration, tr Transport) *Sequencer {
	s := &Sequencer{
		logger:    logger,
		cfg:       cfg,
		transport: tr,
		counter:   txn.NewBatchIdCounter(txn.MachineId(cfg.LocalMachineID)),
	}
	s.resetBatch()
	return s
}

func (s *Sequencer) resetBatch() {
	s.currentBatch = txn.Batch{TransactionType: txn.SingleHome, SameOriginPosition: s.nextPosition}
}

// Run multiplexes the sequencer's inbound transaction channel and a
// periodic tick at which it cuts a batch from whatever accumulated.
func (s *Sequencer) Run(ctx context.Context) error {
	inbound := s.transport.Subscribe(config.SequencerChannel)

	ticker := time.NewTicker(time.Duration(s.cfg.TickPeriodMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-inbound:
			if !ok {
				return nil
			}
			s.handleInbound(d)
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Sequencer) handleInbound(d transport.Delivery) {
	switch d.Envelope.Kind {
	case wire.KindForwardTxn:
		s.currentBatch.Transactions = append(s.currentBatch.Transactions, d.Envelope.ForwardTxn.Txn)
	default:
		s.logger.Warnf("unexpected request type received on sequencer channel: %v", d.Envelope.Kind)
	}
}

// onTick seals the current batch if non-empty, mints its BatchId, submits
// it to the local consensus collaborator, and replicates the batch
// content to every region's Interleaver for this partition (this region's
// own Interleaver included), carrying the queue position the local paxos
// leader will key its slot assignment to. Mirrors MultiHomeOrderer.onTick's
// fan-out to every region's ordering leader, generalized to "every
// replica's copy of this partition" instead of "every region's leader".
func (s *Sequencer) onTick() {
	if len(s.currentBatch.Transactions) == 0 {
		return
	}

	batchID := s.counter.Next()
	s.currentBatch.Id = batchID
	position := s.currentBatch.SameOriginPosition

	s.logger.Debugf("finished single-home batch %d at position %d", batchID, position)
	if s.metrics != nil {
		s.metrics.SingleHomeBatchesCut.Add(1)
	}

	s.transport.SendLocal(wire.NewPaxosPropose(encodeBatchID(batchID)), config.LocalPaxosChannel)

	_, partition := s.cfg.SplitMachineId(s.cfg.LocalMachineID)
	for rep := uint32(0); rep < s.cfg.NumReplicas; rep++ {
		machineID := txn.MachineId(s.cfg.MakeMachineId(rep, partition))
		s.transport.Send(wire.NewForwardBatchData(s.currentBatch, position), machineID, config.InterleaverChannel)
	}

	s.nextPosition++
	s.resetBatch()
}

func encodeBatchID(id txn.BatchId) []byte {
	var buf [8]byte
	v := uint64(id)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
	return buf[:]
}
