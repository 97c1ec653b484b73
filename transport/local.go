/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"sync"

	"geotxn/config"
	"geotxn/logging"
	"geotxn/txn"
	"geotxn/wire"
)

// chanHWM is the buffer depth for every local/simulated-remote channel.
// The core's contract calls for an effectively unbounded high-water mark
// for control messages; a large buffered channel approximates that for
// tests and single-process simulation without risking an unbounded
// goroutine-per-message scheme.
const chanHWM = 4096

// Local is an in-process Transport that also simulates multiple
// "machines" within one process, used by tests and the integration
// package. Send and SendLocal never block the caller once a destination
// channel is registered; if the destination has been torn down, the send
// is dropped silently, matching the teacher's teardown discipline.
type Local struct {
	logger   logging.Logger
	localID  txn.MachineId
	mu       sync.Mutex
	machines map[txn.MachineId]*Local
	inbound  map[config.Channel]chan Delivery
	closed   bool
}

// NewLocal constructs a Local transport identified as localID within the
// shared machines registry. Registry may be nil to run a single isolated
// machine.
func NewLocal(logger logging.Logger, localID txn.MachineId, registry map[txn.MachineId]*Local) *Local {
	l := &Local{
		logger:   logger,
		localID:  localID,
		machines: registry,
		inbound:  make(map[config.Channel]chan Delivery),
	}
	if registry != nil {
		registry[localID] = l
	}
	return l
}

// Subscribe returns the inbound channel for a local channel, lazily
// creating it on first use, mirroring the lazy connection establishment
// the corpus's Sender performs for outbound sockets.
func (l *Local) Subscribe(channel config.Channel) <-chan Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.inbound[channel]
	if !ok {
		c = make(chan Delivery, chanHWM)
		l.inbound[channel] = c
	}
	return c
}

// Send delivers envelope to channel on the machine identified by
// machineID. If machineID is unknown to the registry, or the destination
// has been shut down, the message is dropped silently.
func (l *Local) Send(envelope wire.Envelope, machineID txn.MachineId, channel config.Channel) {
	l.mu.Lock()
	dest, ok := l.machines[machineID]
	l.mu.Unlock()
	if !ok {
		l.logger.Warnf("no such machine %d, dropping message to channel %s", machineID, channel)
		return
	}
	dest.deliver(channel, Delivery{Envelope: envelope, From: l.localID})
}

// SendLocal delivers envelope to channel within this same process.
func (l *Local) SendLocal(envelope wire.Envelope, channel config.Channel) {
	l.deliver(channel, Delivery{Envelope: envelope, From: l.localID})
}

func (l *Local) deliver(channel config.Channel, d Delivery) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	c, ok := l.inbound[channel]
	if !ok {
		c = make(chan Delivery, chanHWM)
		l.inbound[channel] = c
	}
	l.mu.Unlock()

	select {
	case c <- d:
	default:
		l.logger.Warnf("channel %s at machine %d is full, dropping message", channel, l.localID)
	}
}

// Shutdown stops accepting deliveries; subsequent Send/SendLocal calls
// targeting this machine are dropped silently, matching the core's
// teardown tolerance.
func (l *Local) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}
