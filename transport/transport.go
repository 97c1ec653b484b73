/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transport delivers envelopes between machines and between local
// channels with reliable, FIFO-per-sender semantics. Connections are
// established lazily and the high-water mark is effectively unbounded for
// control messages, per the corpus's connection/sender.cpp (lazy
// per-destination socket cache, atomic local-identity counter) and the
// teacher's node/comm egress Logger pattern.
package transport

import (
	"geotxn/config"
	"geotxn/txn"
	"geotxn/wire"
)

// Transport is the interface every module depends on to exchange
// envelopes. The core tolerates teardown by silently dropping outgoing
// messages rather than blocking or erroring.
type Transport interface {
	// Send delivers envelope to channel on machineID, reliably and in
	// FIFO order relative to every other Send from this Transport to the
	// same (machineID, channel) pair.
	Send(envelope wire.Envelope, machineID txn.MachineId, channel config.Channel)
	// SendLocal delivers envelope to channel within this process, in
	// FIFO order relative to every other SendLocal to the same channel.
	SendLocal(envelope wire.Envelope, channel config.Channel)
}

// Delivery pairs an inbound envelope with the identity of the machine
// that sent it.
type Delivery struct {
	Envelope wire.Envelope
	From     txn.MachineId
}

// Receiver is the inbound side a module reads from: one Go channel per
// logical channel it subscribes to.
type Receiver interface {
	// Subscribe returns the inbound channel for a local channel name.
	// Subsequent calls for the same name return the same channel.
	Subscribe(channel config.Channel) <-chan Delivery
}
