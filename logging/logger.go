/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logging provides the structured logger used by every module in
// the ordering core. It wraps zap through fabric-lib-go's flogging package
// rather than defining yet another logging abstraction.
package logging

import (
	"github.com/hyperledger/fabric-lib-go/common/flogging"
)

// Logger is the logging surface every module depends on. Modules never
// import zap or flogging directly; they take this interface so tests can
// substitute any implementation.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Panicf(template string, args ...interface{})
}

// New returns a named logger backed by flogging/zap.
func New(name string) *flogging.FabricLogger {
	return flogging.MustGetLogger(name)
}
