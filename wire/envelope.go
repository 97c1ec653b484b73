/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package wire defines Envelope, the only object exchanged across the
// transport boundary, and the binary codec used to frame it. Envelope is a
// tagged union translating the teacher's type_case()-style dispatch
// (request->type_case(), forward_batch->part_case()) into an idiomatic Go
// struct with a Kind discriminant and a type switch at every consumer.
package wire

import (
	"geotxn/txn"
)

// Kind discriminates which field of Envelope is populated.
type Kind int

const (
	KindForwardTxn Kind = iota
	KindForwardBatchData
	KindForwardLocalBatchOrder
	KindPaxosPropose
	KindPaxosNotify
	KindRemasterOccurred
)

// ForwardTxn carries a single transaction to the orderer or sequencer.
type ForwardTxn struct {
	Txn txn.Transaction
}

// ForwardBatchData replicates a batch's content to every region of
// interest. SameOriginPosition lets the receiving LocalLog/Interleaver
// reorder out-of-sequence arrivals from the same queue back into order.
type ForwardBatchData struct {
	Batch              txn.Batch
	SameOriginPosition uint32
}

// ForwardLocalBatchOrder is a per-queue slot assignment from a local
// paxos leader, destined for a LocalLog.
type ForwardLocalBatchOrder struct {
	QueueId txn.QueueId
	Slot    txn.Slot
	Leader  txn.MachineId
}

// PaxosPropose carries an opaque value to the consensus collaborator. The
// core treats Value as opaque; it is a serialized BatchId for multi-home
// ordering proposals.
type PaxosPropose struct {
	Value []byte
}

// PaxosNotify is the consensus collaborator's delivery of a value at a
// given slot, in the same total order at every participant.
type PaxosNotify struct {
	Slot  txn.Slot
	Value []byte
}

// RemasterOccurred is emitted by the executor when a key's mastership
// counter advances, and routed to the RemasterManager.
type RemasterOccurred struct {
	Key        txn.Key
	NewCounter uint64
}

// Envelope is the only wire object exchanged between machines and between
// local channels. Sender/recipient machine id and destination channel are
// supplied by the transport out of band, never serialized in the payload.
type Envelope struct {
	Kind Kind

	ForwardTxn             *ForwardTxn
	ForwardBatchData       *ForwardBatchData
	ForwardLocalBatchOrder *ForwardLocalBatchOrder
	PaxosPropose           *PaxosPropose
	PaxosNotify            *PaxosNotify
	RemasterOccurred       *RemasterOccurred
}

// NewForwardTxn wraps a transaction in an Envelope.
func NewForwardTxn(t txn.Transaction) Envelope {
	return Envelope{Kind: KindForwardTxn, ForwardTxn: &ForwardTxn{Txn: t}}
}

// NewForwardBatchData wraps replicated batch content in an Envelope.
func NewForwardBatchData(b txn.Batch, sameOriginPosition uint32) Envelope {
	return Envelope{
		Kind: KindForwardBatchData,
		ForwardBatchData: &ForwardBatchData{
			Batch:              b,
			SameOriginPosition: sameOriginPosition,
		},
	}
}

// NewForwardLocalBatchOrder wraps a local per-queue slot assignment in an
// Envelope.
func NewForwardLocalBatchOrder(queueID txn.QueueId, slot txn.Slot, leader txn.MachineId) Envelope {
	return Envelope{
		Kind: KindForwardLocalBatchOrder,
		ForwardLocalBatchOrder: &ForwardLocalBatchOrder{
			QueueId: queueID,
			Slot:    slot,
			Leader:  leader,
		},
	}
}

// NewPaxosPropose wraps a consensus proposal in an Envelope.
func NewPaxosPropose(value []byte) Envelope {
	return Envelope{Kind: KindPaxosPropose, PaxosPropose: &PaxosPropose{Value: value}}
}

// NewPaxosNotify wraps a consensus delivery in an Envelope.
func NewPaxosNotify(slot txn.Slot, value []byte) Envelope {
	return Envelope{Kind: KindPaxosNotify, PaxosNotify: &PaxosNotify{Slot: slot, Value: value}}
}

// NewRemasterOccurred wraps a remaster event in an Envelope.
func NewRemasterOccurred(key txn.Key, newCounter uint64) Envelope {
	return Envelope{
		Kind:             KindRemasterOccurred,
		RemasterOccurred: &RemasterOccurred{Key: key, NewCounter: newCounter},
	}
}
