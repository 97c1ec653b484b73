/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package integration wires the modules of the single-home path and of the
// multi-home path over in-process transport.Local instances and drives a
// transaction down each path end to end, from submission through the
// forwarder to dispatch at the scheduler. It is the Go analogue of the
// corpus's "TestSlog"-style full-stack fixture tests: the core's own
// modules run unmodified, the consensus collaborator is a loopback
// stand-in, and the storage engine and executor are in-memory test doubles.
package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"geotxn/config"
	"geotxn/forwarder"
	"geotxn/interleaver"
	"geotxn/logging"
	"geotxn/orderer"
	"geotxn/remaster"
	"geotxn/runtime"
	"geotxn/scheduler"
	"geotxn/sequencer"
	"geotxn/storage"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"

	"github.com/stretchr/testify/require"
)

// loopbackConsensus stands in for the external global/local consensus
// collaborator: it assigns every proposal it receives the next slot in
// its own monotonic sequence and echoes back the corresponding notify.
// Real consensus is outside the ordering core's scope; this is the
// minimal fixture needed to exercise the BatchLog/LocalLog release paths
// end to end.
type loopbackConsensus struct {
	transport interface {
		transport.Transport
		Subscribe(channel config.Channel) <-chan transport.Delivery
	}
	proposeChannel config.Channel
	notify         func(slot txn.Slot, value []byte) wire.Envelope
	notifyChannel  config.Channel
	nextSlot       txn.Slot
}

func (c *loopbackConsensus) Run(ctx context.Context) error {
	inbound := c.transport.Subscribe(c.proposeChannel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-inbound:
			if !ok {
				return nil
			}
			if d.Envelope.Kind != wire.KindPaxosPropose {
				continue
			}
			slot := c.nextSlot
			c.nextSlot++
			c.transport.SendLocal(c.notify(slot, d.Envelope.PaxosPropose.Value), c.notifyChannel)
		}
	}
}

type collectingExecutor struct {
	mu         sync.Mutex
	dispatched []uint64
	aborted    []uint64
}

func (e *collectingExecutor) Dispatch(t txn.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatched = append(e.dispatched, t.ID)
}

func (e *collectingExecutor) Abort(t txn.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = append(e.aborted, t.ID)
}

func (e *collectingExecutor) waitFor(t *testing.T, id uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		for _, d := range e.dispatched {
			if d == id {
				e.mu.Unlock()
				return
			}
		}
		e.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transaction %d was never dispatched", id)
}

// TestSingleHomeTransactionEndToEnd drives a single-home transaction from
// submission through the forwarder, sequencer, interleaver, and scheduler,
// to an executor dispatch, within one region, single partition topology.
func TestSingleHomeTransactionEndToEnd(t *testing.T) {
	cfg := &config.Configuration{
		LocalMachineID: 0,
		NumReplicas:    1,
		NumPartitions:  1,
		TickPeriodMs:   5,
	}
	logger := logging.New("t")
	registry := make(map[txn.MachineId]*transport.Local)
	tr := transport.NewLocal(logger, txn.MachineId(cfg.LocalMachineID), registry)

	store := storage.NewInMemory()
	store.Write("k1", txn.Record{MasterRegion: 0, Counter: 1})
	rm := remaster.New(logger, store)
	exec := &collectingExecutor{}

	queueID := txn.QueueId(cfg.LocalMachineID)
	localPaxos := &loopbackConsensus{
		transport:      tr,
		proposeChannel: config.LocalPaxosChannel,
		notifyChannel:  config.LocalPaxosChannel,
		notify: func(slot txn.Slot, _ []byte) wire.Envelope {
			return wire.NewForwardLocalBatchOrder(queueID, slot, txn.MachineId(cfg.LocalMachineID))
		},
	}

	sup := runtime.NewSupervisor(logger)
	sup.Add("sequencer", sequencer.New(logger, cfg, tr))
	sup.Add("interleaver", interleaver.New(logger, tr))
	sup.Add("scheduler", scheduler.New(logger, tr, rm, exec))
	sup.Add("local-paxos", localPaxos)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	fw := forwarder.New(logger, tr)
	fw.Submit(txn.Transaction{
		ID:       1,
		Keys:     map[txn.Key]txn.KeyAccess{"k1": txn.Write},
		Metadata: map[txn.Key]txn.KeyMetadata{"k1": {MasterRegion: 0, Counter: 1}},
	})

	exec.waitFor(t, 1)
}

// TestMultiHomeTransactionEndToEnd drives a multi-home transaction through
// the forwarder and multi-home orderer, with a second region's leader
// participating only as the replication destination, to an executor
// dispatch at the originating region's scheduler.
func TestMultiHomeTransactionEndToEnd(t *testing.T) {
	cfg := &config.Configuration{
		LocalMachineID:                      0,
		NumReplicas:                         2,
		NumPartitions:                       1,
		LeaderPartitionForMultiHomeOrdering: 0,
		TickPeriodMs:                        5,
	}
	logger := logging.New("t")
	registry := make(map[txn.MachineId]*transport.Local)
	tr := transport.NewLocal(logger, txn.MachineId(cfg.LocalMachineID), registry)
	remoteTr := transport.NewLocal(logger, txn.MachineId(cfg.MakeMachineId(1, 0)), registry)

	remoteInbox := remoteTr.Subscribe(config.MultiHomeOrdererChannel)

	store := storage.NewInMemory()
	store.Write("k1", txn.Record{MasterRegion: 0, Counter: 1})
	store.Write("k2", txn.Record{MasterRegion: 1, Counter: 1})
	rm := remaster.New(logger, store)
	exec := &collectingExecutor{}

	globalPaxos := &loopbackConsensus{
		transport:      tr,
		proposeChannel: config.GlobalPaxosChannel,
		notifyChannel:  config.GlobalPaxosChannel,
		notify: func(slot txn.Slot, value []byte) wire.Envelope {
			return wire.NewPaxosNotify(slot, value)
		},
	}

	sup := runtime.NewSupervisor(logger)
	sup.Add("orderer", orderer.New(logger, cfg, tr))
	sup.Add("scheduler", scheduler.New(logger, tr, rm, exec))
	sup.Add("global-paxos", globalPaxos)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	fw := forwarder.New(logger, tr)
	fw.Submit(txn.Transaction{
		ID: 2,
		Keys: map[txn.Key]txn.KeyAccess{
			"k1": txn.Write,
			"k2": txn.Write,
		},
		Metadata: map[txn.Key]txn.KeyMetadata{
			"k1": {MasterRegion: 0, Counter: 1},
			"k2": {MasterRegion: 1, Counter: 1},
		},
	})

	exec.waitFor(t, 2)

	select {
	case d := <-remoteInbox:
		require.NotNil(t, d.Envelope.ForwardBatchData)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the multi-home batch to be replicated to the remote region's leader")
	}
}
