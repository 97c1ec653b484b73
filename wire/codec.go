/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wire

import (
	"encoding/binary"

	"geotxn/txn"

	"github.com/pkg/errors"
)

// Marshal encodes an Envelope into a flat byte slice: a Kind byte followed
// by the length-prefixed fields of whichever variant is populated. This
// mirrors BatchedRequests.ToBytes's length-prefix framing rather than
// shipping a full .proto-generated codec (see the design notes on why).
func Marshal(e Envelope) ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(e.Kind))

	switch e.Kind {
	case KindForwardTxn:
		if e.ForwardTxn == nil {
			return nil, errors.New("ForwardTxn envelope missing payload")
		}
		buf = append(buf, marshalTransaction(e.ForwardTxn.Txn)...)

	case KindForwardBatchData:
		if e.ForwardBatchData == nil {
			return nil, errors.New("ForwardBatchData envelope missing payload")
		}
		buf = append(buf, marshalBatch(e.ForwardBatchData.Batch)...)
		buf = appendUint32(buf, e.ForwardBatchData.SameOriginPosition)

	case KindForwardLocalBatchOrder:
		if e.ForwardLocalBatchOrder == nil {
			return nil, errors.New("ForwardLocalBatchOrder envelope missing payload")
		}
		buf = appendUint64(buf, uint64(e.ForwardLocalBatchOrder.QueueId))
		buf = appendUint32(buf, uint32(e.ForwardLocalBatchOrder.Slot))
		buf = appendUint64(buf, uint64(e.ForwardLocalBatchOrder.Leader))

	case KindPaxosPropose:
		if e.PaxosPropose == nil {
			return nil, errors.New("PaxosPropose envelope missing payload")
		}
		buf = appendBytes(buf, e.PaxosPropose.Value)

	case KindPaxosNotify:
		if e.PaxosNotify == nil {
			return nil, errors.New("PaxosNotify envelope missing payload")
		}
		buf = appendUint32(buf, uint32(e.PaxosNotify.Slot))
		buf = appendBytes(buf, e.PaxosNotify.Value)

	case KindRemasterOccurred:
		if e.RemasterOccurred == nil {
			return nil, errors.New("RemasterOccurred envelope missing payload")
		}
		buf = appendBytes(buf, []byte(e.RemasterOccurred.Key))
		buf = appendUint64(buf, e.RemasterOccurred.NewCounter)

	default:
		return nil, errors.Errorf("unknown envelope kind %d", e.Kind)
	}

	return buf, nil
}

// Unmarshal decodes an Envelope previously produced by Marshal.
func Unmarshal(raw []byte) (Envelope, error) {
	if len(raw) < 1 {
		return Envelope{}, errors.New("truncated envelope: missing kind byte")
	}
	kind := Kind(raw[0])
	rest := raw[1:]

	switch kind {
	case KindForwardTxn:
		t, _, err := unmarshalTransaction(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode ForwardTxn")
		}
		return Envelope{Kind: kind, ForwardTxn: &ForwardTxn{Txn: t}}, nil

	case KindForwardBatchData:
		b, n, err := unmarshalBatch(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode ForwardBatchData")
		}
		rest = rest[n:]
		pos, _, err := readUint32(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode same_origin_position")
		}
		return Envelope{Kind: kind, ForwardBatchData: &ForwardBatchData{Batch: b, SameOriginPosition: pos}}, nil

	case KindForwardLocalBatchOrder:
		queueID, n, err := readUint64(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode queue_id")
		}
		rest = rest[n:]
		slot, n, err := readUint32(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode slot")
		}
		rest = rest[n:]
		leader, _, err := readUint64(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode leader")
		}
		return Envelope{
			Kind: kind,
			ForwardLocalBatchOrder: &ForwardLocalBatchOrder{
				QueueId: txn.QueueId(queueID),
				Slot:    txn.Slot(slot),
				Leader:  txn.MachineId(leader),
			},
		}, nil

	case KindPaxosPropose:
		value, _, err := readBytes(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode PaxosPropose")
		}
		return Envelope{Kind: kind, PaxosPropose: &PaxosPropose{Value: value}}, nil

	case KindPaxosNotify:
		slot, n, err := readUint32(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode slot")
		}
		rest = rest[n:]
		value, _, err := readBytes(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode PaxosNotify value")
		}
		return Envelope{Kind: kind, PaxosNotify: &PaxosNotify{Slot: txn.Slot(slot), Value: value}}, nil

	case KindRemasterOccurred:
		key, n, err := readBytes(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode key")
		}
		rest = rest[n:]
		counter, _, err := readUint64(rest)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "failed to decode new_counter")
		}
		return Envelope{
			Kind:             kind,
			RemasterOccurred: &RemasterOccurred{Key: txn.Key(key), NewCounter: counter},
		}, nil

	default:
		return Envelope{}, errors.Errorf("unknown envelope kind %d", kind)
	}
}

func marshalTransaction(t txn.Transaction) []byte {
	var buf []byte
	buf = appendUint64(buf, t.ID)

	buf = appendUint32(buf, uint32(len(t.Keys)))
	for k, access := range t.Keys {
		buf = appendBytes(buf, []byte(k))
		buf = append(buf, byte(access))
	}

	buf = appendUint32(buf, uint32(len(t.Code)))
	for _, op := range t.Code {
		buf = appendBytes(buf, op)
	}

	buf = appendUint32(buf, uint32(len(t.Metadata)))
	for k, md := range t.Metadata {
		buf = appendBytes(buf, []byte(k))
		buf = appendUint32(buf, md.MasterRegion)
		buf = appendUint64(buf, md.Counter)
	}

	return buf
}

func unmarshalTransaction(raw []byte) (txn.Transaction, int, error) {
	start := len(raw)
	var t txn.Transaction

	id, n, err := readUint64(raw)
	if err != nil {
		return t, 0, errors.Wrap(err, "id")
	}
	t.ID = id
	raw = raw[n:]

	numKeys, n, err := readUint32(raw)
	if err != nil {
		return t, 0, errors.Wrap(err, "keys count")
	}
	raw = raw[n:]
	if numKeys > 0 {
		t.Keys = make(map[txn.Key]txn.KeyAccess, numKeys)
	}
	for i := uint32(0); i < numKeys; i++ {
		k, n, err := readBytes(raw)
		if err != nil {
			return t, 0, errors.Wrap(err, "key")
		}
		raw = raw[n:]
		if len(raw) < 1 {
			return t, 0, errors.New("truncated key access")
		}
		t.Keys[txn.Key(k)] = txn.KeyAccess(raw[0])
		raw = raw[1:]
	}

	numOps, n, err := readUint32(raw)
	if err != nil {
		return t, 0, errors.Wrap(err, "code count")
	}
	raw = raw[n:]
	for i := uint32(0); i < numOps; i++ {
		op, n, err := readBytes(raw)
		if err != nil {
			return t, 0, errors.Wrap(err, "code op")
		}
		raw = raw[n:]
		t.Code = append(t.Code, op)
	}

	numMeta, n, err := readUint32(raw)
	if err != nil {
		return t, 0, errors.Wrap(err, "metadata count")
	}
	raw = raw[n:]
	if numMeta > 0 {
		t.Metadata = make(map[txn.Key]txn.KeyMetadata, numMeta)
	}
	for i := uint32(0); i < numMeta; i++ {
		k, n, err := readBytes(raw)
		if err != nil {
			return t, 0, errors.Wrap(err, "metadata key")
		}
		raw = raw[n:]
		region, n, err := readUint32(raw)
		if err != nil {
			return t, 0, errors.Wrap(err, "metadata region")
		}
		raw = raw[n:]
		counter, n, err := readUint64(raw)
		if err != nil {
			return t, 0, errors.Wrap(err, "metadata counter")
		}
		raw = raw[n:]
		t.Metadata[txn.Key(k)] = txn.KeyMetadata{MasterRegion: region, Counter: counter}
	}

	return t, start - len(raw), nil
}

func marshalBatch(b txn.Batch) []byte {
	var buf []byte
	buf = appendUint64(buf, uint64(b.Id))
	buf = append(buf, byte(b.TransactionType))
	buf = appendUint32(buf, b.SameOriginPosition)
	buf = appendUint32(buf, uint32(len(b.Transactions)))
	for _, t := range b.Transactions {
		buf = append(buf, marshalTransaction(t)...)
	}
	return buf
}

func unmarshalBatch(raw []byte) (txn.Batch, int, error) {
	start := len(raw)
	var b txn.Batch

	id, n, err := readUint64(raw)
	if err != nil {
		return b, 0, errors.Wrap(err, "batch id")
	}
	b.Id = txn.BatchId(id)
	raw = raw[n:]

	if len(raw) < 1 {
		return b, 0, errors.New("truncated batch transaction_type")
	}
	b.TransactionType = txn.TransactionType(raw[0])
	raw = raw[1:]

	pos, n, err := readUint32(raw)
	if err != nil {
		return b, 0, errors.Wrap(err, "same_origin_position")
	}
	b.SameOriginPosition = pos
	raw = raw[n:]

	count, n, err := readUint32(raw)
	if err != nil {
		return b, 0, errors.Wrap(err, "transactions count")
	}
	raw = raw[n:]
	for i := uint32(0); i < count; i++ {
		t, n, err := unmarshalTransaction(raw)
		if err != nil {
			return b, 0, errors.Wrap(err, "transaction")
		}
		raw = raw[n:]
		b.Transactions = append(b.Transactions, t)
	}

	return b, start - len(raw), nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], v)
	return append(buf, sizeBuf[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], v)
	return append(buf, sizeBuf[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readUint32(raw []byte) (uint32, int, error) {
	if len(raw) < 4 {
		return 0, 0, errors.New("truncated uint32")
	}
	return binary.BigEndian.Uint32(raw[0:4]), 4, nil
}

func readUint64(raw []byte) (uint64, int, error) {
	if len(raw) < 8 {
		return 0, 0, errors.New("truncated uint64")
	}
	return binary.BigEndian.Uint64(raw[0:8]), 8, nil
}

func readBytes(raw []byte) ([]byte, int, error) {
	size, n, err := readUint32(raw)
	if err != nil {
		return nil, 0, err
	}
	raw = raw[n:]
	if uint32(len(raw)) < size {
		return nil, 0, errors.New("truncated byte field")
	}
	return raw[:size], n + int(size), nil
}
