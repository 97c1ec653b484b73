/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package runtime composes modules into a running process. Every module
// in the ordering core (MultiHomeOrderer, Sequencer, Interleaver, and the
// Scheduler that owns the RemasterManager) is an independent
// single-threaded event loop; Supervisor is the Go-idiomatic analogue of the teacher's
// NetworkedModule base class, composing rather than embedding-via-
// inheritance, and using golang.org/x/sync/errgroup for coordinated
// shutdown instead of a weak broker back-reference.
package runtime

import (
	"context"

	"geotxn/logging"

	"golang.org/x/sync/errgroup"
)

// Module is a single-threaded event loop. Run must return when ctx is
// canceled; it may also return earlier on an unrecoverable error.
type Module interface {
	Run(ctx context.Context) error
}

// Supervisor starts a set of modules, each in its own goroutine, and
// waits for coordinated shutdown: the first module to return an error
// cancels ctx for all the others.
type Supervisor struct {
	logger  logging.Logger
	modules []namedModule
}

type namedModule struct {
	name   string
	module Module
}

// NewSupervisor constructs an empty Supervisor.
func NewSupervisor(logger logging.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Add registers a module to be started by Run, under name (used only for
// diagnostics).
func (s *Supervisor) Add(name string, m Module) {
	s.modules = append(s.modules, namedModule{name: name, module: m})
}

// Run starts every registered module and blocks until ctx is canceled or
// any module returns a non-nil error, at which point every other module
// is canceled too. It returns the first error encountered, if any.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, nm := range s.modules {
		nm := nm
		g.Go(func() error {
			s.logger.Infof("starting module %s", nm.name)
			err := nm.module.Run(gCtx)
			if err != nil {
				s.logger.Errorf("module %s stopped with error: %v", nm.name, err)
			} else {
				s.logger.Infof("module %s stopped", nm.name)
			}
			return err
		})
	}
	return g.Wait()
}
