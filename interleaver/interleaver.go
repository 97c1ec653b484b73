/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package interleaver implements the Interleaver: it drives a LocalLog
// from inbound batch content and per-queue slot assignments, and once a
// slot releases, flattens the released batch into individual transactions
// streamed to the scheduler in slot order. Grounded on the teacher's root
// assembler.go (which plays the analogous "drain a log, stream its
// content onward" role for its BlockAssembler) and
// original_source/test/module/interleaver_test.cpp's InterleaverTest
// scenarios.
package interleaver

import (
	"context"

	"geotxn/config"
	"geotxn/locallog"
	"geotxn/logging"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"

	"github.com/cockroachdb/errors"
)

// Transport is the subset of transport.Transport/Receiver the interleaver
// depends on.
type Transport interface {
	transport.Transport
	Subscribe(channel config.Channel) <-chan transport.Delivery
}

// Interleaver is a single-threaded module driven from its own goroutine.
type Interleaver struct {
	logger    logging.Logger
	transport Transport

	log     *locallog.LocalLog
	content map[txn.BatchId]txn.Batch
}

// New constructs an empty Interleaver.
func New(logger logging.Logger, tr Transport) *Interleaver {
	return &Interleaver{
		logger:    logger,
		transport: tr,
		log:       locallog.New(),
		content:   make(map[txn.BatchId]txn.Batch),
	}
}

// Run multiplexes the interleaver's inbound batch-content channel and the
// local-paxos slot-assignment channel, draining releasable slots after
// every event.
func (i *Interleaver) Run(ctx context.Context) error {
	batches := i.transport.Subscribe(config.InterleaverChannel)
	slots := i.transport.Subscribe(config.LocalPaxosChannel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-batches:
			if !ok {
				return nil
			}
			i.handleBatchData(d)
		case d, ok := <-slots:
			if !ok {
				return nil
			}
			i.handleSlot(d)
		}
	}
}

func (i *Interleaver) handleBatchData(d transport.Delivery) {
	if d.Envelope.Kind != wire.KindForwardBatchData {
		i.logger.Warnf("unexpected request type received on interleaver channel: %v", d.Envelope.Kind)
		return
	}
	fb := d.Envelope.ForwardBatchData
	queueID := txn.QueueId(d.From)

	i.content[fb.Batch.Id] = fb.Batch
	i.log.AddBatchId(queueID, fb.SameOriginPosition, fb.Batch.Id)
	i.drain()
}

func (i *Interleaver) handleSlot(d transport.Delivery) {
	if d.Envelope.Kind != wire.KindForwardLocalBatchOrder {
		i.logger.Warnf("unexpected request type received on local paxos channel: %v", d.Envelope.Kind)
		return
	}
	order := d.Envelope.ForwardLocalBatchOrder
	i.log.AddSlot(order.Slot, order.QueueId, order.Leader)
	i.drain()
}

// drain flattens every releasable slot's batch into individual
// transactions, dispatched to the scheduler in slot order.
func (i *Interleaver) drain() {
	for i.log.HasNextBatch() {
		release := i.log.NextBatch()
		batch, ok := i.content[release.BatchId]
		if !ok {
			panic(errors.AssertionFailedf(
				"local log released batch %d with no content recorded for it", release.BatchId))
		}
		delete(i.content, release.BatchId)

		for _, t := range batch.Transactions {
			i.transport.SendLocal(wire.NewForwardTxn(t), config.SchedulerChannel)
		}
	}
}
