/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	fabmetrics "github.com/hyperledger/fabric-lib-go/common/metrics"
)

// Ordering holds the counters the ordering core's modules publish through
// a Provider.
type Ordering struct {
	MultiHomeBatchesCut fabmetrics.Counter
	SingleHomeBatchesCut fabmetrics.Counter
	Dispatched          fabmetrics.Counter
	Aborted             fabmetrics.Counter
	Blocked             fabmetrics.Counter
}

// NewOrdering registers the ordering core's counters against provider.
func NewOrdering(provider *Provider) *Ordering {
	return &Ordering{
		MultiHomeBatchesCut: provider.NewCounter(fabmetrics.CounterOpts{
			Subsystem: "orderer",
			Name:      "multi_home_batches_cut_total",
			Help:      "Number of multi-home batches cut by the multi-home orderer.",
		}).With(),
		SingleHomeBatchesCut: provider.NewCounter(fabmetrics.CounterOpts{
			Subsystem: "sequencer",
			Name:      "single_home_batches_cut_total",
			Help:      "Number of single-home batches cut by the sequencer.",
		}).With(),
		Dispatched: provider.NewCounter(fabmetrics.CounterOpts{
			Subsystem: "scheduler",
			Name:      "transactions_dispatched_total",
			Help:      "Number of transactions dispatched to the executor.",
		}).With(),
		Aborted: provider.NewCounter(fabmetrics.CounterOpts{
			Subsystem: "scheduler",
			Name:      "transactions_aborted_total",
			Help:      "Number of transactions aborted by the remaster manager.",
		}).With(),
		Blocked: provider.NewCounter(fabmetrics.CounterOpts{
			Subsystem: "scheduler",
			Name:      "transactions_blocked_total",
			Help:      "Number of transactions blocked pending a remaster event.",
		}).With(),
	}
}
