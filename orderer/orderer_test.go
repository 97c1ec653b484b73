/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package orderer_test

import (
	"context"
	"testing"
	"time"

	"geotxn/config"
	"geotxn/logging"
	"geotxn/orderer"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Configuration {
	return &config.Configuration{
		LocalMachineID:                      0,
		NumReplicas:                         2,
		NumPartitions:                       2,
		LeaderPartitionForMultiHomeOrdering: 0,
		TickPeriodMs:                        10,
	}
}

func TestTickCutsBatchAndProposes(t *testing.T) {
	cfg := testConfig()
	registry := make(map[txn.MachineId]*transport.Local)
	tr := transport.NewLocal(logging.New("t"), txn.MachineId(cfg.LocalMachineID), registry)
	remoteLeader := transport.NewLocal(logging.New("t"), txn.MachineId(cfg.MakeMachineId(1, 0)), registry)

	o := orderer.New(logging.New("t"), cfg, tr)

	paxosInbox := tr.Subscribe(config.GlobalPaxosChannel)
	remoteInbox := remoteLeader.Subscribe(config.MultiHomeOrdererChannel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	txnInbox := tr.Subscribe(config.MultiHomeOrdererChannel)
	_ = txnInbox
	tr.SendLocal(wire.NewForwardTxn(txn.Transaction{ID: 1}), config.MultiHomeOrdererChannel)

	select {
	case d := <-paxosInbox:
		require.Equal(t, wire.KindPaxosPropose, d.Envelope.Kind)
		assert.NotEmpty(t, d.Envelope.PaxosPropose.Value)
	case <-time.After(time.Second):
		t.Fatal("expected a consensus proposal after a tick")
	}

	select {
	case d := <-remoteInbox:
		require.Equal(t, wire.KindForwardBatchData, d.Envelope.Kind)
		require.Len(t, d.Envelope.ForwardBatchData.Batch.Transactions, 1)
		assert.Equal(t, uint64(1), d.Envelope.ForwardBatchData.Batch.Transactions[0].ID)
	case <-time.After(time.Second):
		t.Fatal("expected the batch to be replicated to the remote region's leader")
	}
}

func TestBatchLogReleaseFlattensToScheduler(t *testing.T) {
	cfg := testConfig()
	tr := transport.NewLocal(logging.New("t"), txn.MachineId(cfg.LocalMachineID), nil)
	o := orderer.New(logging.New("t"), cfg, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	schedInbox := tr.Subscribe(config.SchedulerChannel)

	batch := txn.Batch{Id: 42, TransactionType: txn.MultiHome, Transactions: []txn.Transaction{{ID: 7}, {ID: 8}}}
	tr.SendLocal(wire.NewForwardBatchData(batch, 0), config.MultiHomeOrdererChannel)
	tr.SendLocal(wire.NewPaxosNotify(0, encodeBatchIDForTest(42)), config.GlobalPaxosChannel)

	select {
	case d := <-schedInbox:
		require.Equal(t, wire.KindForwardTxn, d.Envelope.Kind)
		assert.Equal(t, uint64(7), d.Envelope.ForwardTxn.Txn.ID)
	case <-time.After(time.Second):
		t.Fatal("expected the first flattened transaction to reach the scheduler")
	}

	select {
	case d := <-schedInbox:
		require.Equal(t, wire.KindForwardTxn, d.Envelope.Kind)
		assert.Equal(t, uint64(8), d.Envelope.ForwardTxn.Txn.ID)
	case <-time.After(time.Second):
		t.Fatal("expected the second flattened transaction to reach the scheduler")
	}
}

func encodeBatchIDForTest(id txn.BatchId) []byte {
	var buf [8]byte
	v := uint64(id)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
	return buf[:]
}
