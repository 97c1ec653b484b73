/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package forwarder implements the client-facing Forwarder: it accepts a
// newly submitted transaction, recomputes its effective home from the
// master regions it declares, and routes it to the local multi-home
// orderer or the local single-home sequencer accordingly. Grounded on the
// teacher's root client/broadcast.go, which plays the analogous
// "accept a request, route it to the right internal channel" role.
package forwarder

import (
	"geotxn/config"
	"geotxn/logging"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"
)

// Forwarder routes submitted transactions to the orderer or sequencer
// channel within the local process. It has no event loop of its own:
// Submit is called directly by whatever accepts client requests.
type Forwarder struct {
	logger    logging.Logger
	transport transport.Transport
}

// New constructs a Forwarder over transport.
func New(logger logging.Logger, tr transport.Transport) *Forwarder {
	return &Forwarder{logger: logger, transport: tr}
}

// Submit routes t to the multi-home orderer or the single-home sequencer
// based on its recomputed effective home, never the caller's own
// classification.
func (f *Forwarder) Submit(t txn.Transaction) {
	switch txn.EffectiveHome(&t) {
	case txn.MultiHome:
		f.logger.Debugf("routing transaction %d to the multi-home orderer", t.ID)
		f.transport.SendLocal(wire.NewForwardTxn(t), config.MultiHomeOrdererChannel)
	default:
		f.logger.Debugf("routing transaction %d to the sequencer", t.ID)
		f.transport.SendLocal(wire.NewForwardTxn(t), config.SequencerChannel)
	}
}
