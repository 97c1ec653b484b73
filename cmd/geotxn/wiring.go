/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package geotxn

import (
	"fmt"
	"net"
	"os"

	"geotxn/config"
	"geotxn/logging"
	"geotxn/transport"
	"geotxn/txn"

	"google.golang.org/grpc"
)

func txnMachineID(cfg *config.Configuration) txn.MachineId {
	return txn.MachineId(cfg.LocalMachineID)
}

func staticAddressBook(cfg *config.Configuration) transport.StaticAddressBook {
	book := make(transport.StaticAddressBook, len(cfg.Peers))
	for id, addr := range cfg.Peers {
		book[txn.MachineId(id)] = addr
	}
	return book
}

// serveGRPC binds cfg.ListenAddress and serves tr's Deliver handler on it,
// in the background. The returned grpc.Server is the caller's to stop.
func serveGRPC(logger logging.Logger, tr *transport.GRPCTransport, cfg *config.Configuration) *grpc.Server {
	if cfg.ListenAddress == "" {
		return nil
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen on %s: %v\n", cfg.ListenAddress, err)
		os.Exit(2)
	}

	server := grpc.NewServer()
	tr.Serve(server)
	go func() {
		logger.Infof("gRPC transport listening on %s", cfg.ListenAddress)
		if err := server.Serve(listener); err != nil {
			logger.Errorf("gRPC server stopped serving: %v", err)
		}
	}()
	return server
}

// loggingExecutor is the default Executor for a standalone scheduler
// process until the core grows a real execution layer: it only logs.
type loggingExecutor struct {
	logger logging.Logger
}

func (e *loggingExecutor) Dispatch(t txn.Transaction) {
	e.logger.Infof("dispatching transaction %d", t.ID)
}

func (e *loggingExecutor) Abort(t txn.Transaction) {
	e.logger.Infof("aborting transaction %d", t.ID)
}
