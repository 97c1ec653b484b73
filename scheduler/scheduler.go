/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scheduler implements the Scheduler: the module at the end of
// the ordering pipeline that receives the single merged stream of
// transactions (single-home batches flattened by the interleaver,
// multi-home batches flattened by the orderer) and gates each one through
// the RemasterManager before handing it to execution. Grounded on the
// teacher's root scheduler/policy dispatch shape, generalized from
// "score and route a block" to "classify and route a transaction".
package scheduler

import (
	"context"

	"geotxn/config"
	"geotxn/logging"
	"geotxn/metrics"
	"geotxn/remaster"
	"geotxn/transport"
	"geotxn/txn"
	"geotxn/wire"
)

// Transport is the subset of transport.Transport/Receiver the scheduler
// depends on.
type Transport interface {
	transport.Transport
	Subscribe(channel config.Channel) <-chan transport.Delivery
}

// Executor receives transactions the RemasterManager has classified.
// Dispatch is called once for each transaction the RemasterManager admits,
// either on arrival or, for a WAITING transaction, when a later remaster
// event unblocks it; Abort is called for transactions the RemasterManager
// determines can never become runnable.
type Executor interface {
	Dispatch(t txn.Transaction)
	Abort(t txn.Transaction)
}

// Scheduler is a single-threaded module driven from its own goroutine.
type Scheduler struct {
	logger    logging.Logger
	transport Transport
	remaster  *remaster.Manager
	executor  Executor

	metrics *metrics.Ordering
}

// WithMetrics attaches counters the scheduler publishes dispatch/abort/
// block activity through. Safe to leave unset.
func (s *Scheduler) WithMetrics(m *metrics.Ordering) *Scheduler {
	s.metrics = m
	return s
}

// New constructs a Scheduler. executor receives every transaction the
// RemasterManager admits or aborts.
func New(logger logging.Logger, tr Transport, rm *remaster.Manager, executor Executor) *Scheduler {
	return &Scheduler{logger: logger, transport: tr, remaster: rm, executor: executor}
}

// Run multiplexes the scheduler's inbound transaction channel, on which it
// also receives remaster notifications forwarded from the executor.
func (s *Scheduler) Run(ctx context.Context) error {
	inbound := s.transport.Subscribe(config.SchedulerChannel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-inbound:
			if !ok {
				return nil
			}
			s.handle(d)
		}
	}
}

func (s *Scheduler) handle(d transport.Delivery) {
	switch d.Envelope.Kind {
	case wire.KindForwardTxn:
		s.dispatch(d.Envelope.ForwardTxn.Txn)
	case wire.KindRemasterOccurred:
		re := d.Envelope.RemasterOccurred
		s.apply(s.remaster.RemasterOccurred(re.Key, re.NewCounter))
	default:
		s.logger.Warnf("unexpected request type received on scheduler channel: %v", d.Envelope.Kind)
	}
}

// dispatch classifies t against the RemasterManager and routes it
// immediately if it is already runnable or aborted; a WAITING
// transaction is held by the RemasterManager until a later
// RemasterOccurred/ReleaseTransaction call surfaces it.
func (s *Scheduler) dispatch(t txn.Transaction) {
	h := &remaster.Holder{Txn: t, DeclaredType: txn.EffectiveHome(&t)}

	switch s.remaster.VerifyMaster(h) {
	case remaster.Valid:
		if s.metrics != nil {
			s.metrics.Dispatched.Add(1)
		}
		s.executor.Dispatch(h.Txn)
	case remaster.Abort:
		if s.metrics != nil {
			s.metrics.Aborted.Add(1)
		}
		s.executor.Abort(h.Txn)
	case remaster.Waiting:
		if s.metrics != nil {
			s.metrics.Blocked.Add(1)
		}
		s.logger.Debugf("transaction %d blocked pending remaster", t.ID)
	}
}

func (s *Scheduler) apply(result remaster.Result) {
	for _, h := range result.Unblocked {
		if s.metrics != nil {
			s.metrics.Dispatched.Add(1)
		}
		s.executor.Dispatch(h.Txn)
	}
	for _, h := range result.ShouldAbort {
		if s.metrics != nil {
			s.metrics.Aborted.Add(1)
		}
		s.executor.Abort(h.Txn)
	}
}
