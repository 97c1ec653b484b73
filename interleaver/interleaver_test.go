/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package interleaver_test

import (
	"context"
	"testing"
	"time"

	"geotxn/config"
	"geotxn/interleaver"
	"geotxn/logging"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interleaverMachine = txn.MachineId(0)
const queueMachine = txn.MachineId(9)

func startInterleaver(t *testing.T) (*transport.Local, *transport.Local, <-chan transport.Delivery) {
	t.Helper()
	registry := make(map[txn.MachineId]*transport.Local)
	local := transport.NewLocal(logging.New("t"), interleaverMachine, registry)
	queue := transport.NewLocal(logging.New("t"), queueMachine, registry)

	sched := local.Subscribe(config.SchedulerChannel)

	i := interleaver.New(logging.New("t"), local)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go i.Run(ctx)

	return local, queue, sched
}

func expectTxn(t *testing.T, sched <-chan transport.Delivery, id uint64) {
	t.Helper()
	select {
	case d := <-sched:
		require.Equal(t, wire.KindForwardTxn, d.Envelope.Kind)
		assert.Equal(t, id, d.Envelope.ForwardTxn.Txn.ID)
	case <-time.After(time.Second):
		t.Fatalf("expected transaction %d to be dispatched to the scheduler", id)
	}
}

func TestBatchDataBeforeBatchOrder(t *testing.T) {
	local, queue, sched := startInterleaver(t)

	batch := txn.Batch{Id: 100, Transactions: []txn.Transaction{{ID: 1}, {ID: 2}}}
	queue.Send(wire.NewForwardBatchData(batch, 0), interleaverMachine, config.InterleaverChannel)

	local.SendLocal(wire.NewForwardLocalBatchOrder(txn.QueueId(queueMachine), 0, queueMachine), config.LocalPaxosChannel)

	expectTxn(t, sched, 1)
	expectTxn(t, sched, 2)
}

func TestBatchOrderBeforeBatchData(t *testing.T) {
	local, queue, sched := startInterleaver(t)

	local.SendLocal(wire.NewForwardLocalBatchOrder(txn.QueueId(queueMachine), 0, queueMachine), config.LocalPaxosChannel)

	batch := txn.Batch{Id: 200, Transactions: []txn.Transaction{{ID: 5}}}
	queue.Send(wire.NewForwardBatchData(batch, 0), interleaverMachine, config.InterleaverChannel)

	expectTxn(t, sched, 5)
}

func TestTwoBatchesReleaseInSlotOrder(t *testing.T) {
	local, queue, sched := startInterleaver(t)

	b0 := txn.Batch{Id: 1, Transactions: []txn.Transaction{{ID: 10}}}
	b1 := txn.Batch{Id: 2, Transactions: []txn.Transaction{{ID: 11}}}

	queue.Send(wire.NewForwardBatchData(b1, 1), interleaverMachine, config.InterleaverChannel)
	local.SendLocal(wire.NewForwardLocalBatchOrder(txn.QueueId(queueMachine), 1, queueMachine), config.LocalPaxosChannel)

	queue.Send(wire.NewForwardBatchData(b0, 0), interleaverMachine, config.InterleaverChannel)
	local.SendLocal(wire.NewForwardLocalBatchOrder(txn.QueueId(queueMachine), 0, queueMachine), config.LocalPaxosChannel)

	expectTxn(t, sched, 10)
	expectTxn(t, sched, 11)
}
