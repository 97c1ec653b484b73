/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package geotxn is the CLI entrypoint: it launches one module of the
// ordering core (multi-home orderer, sequencer, interleaver, scheduler) as
// a standalone process reading its topology from a config file. Grounded
// on cmd/arma/arma.go's kingpin-based CLI, generalized from "Router |
// Assembler | Batcher | Consensus" to this core's own module set.
package geotxn

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"geotxn/config"
	"geotxn/interleaver"
	"geotxn/logging"
	"geotxn/metrics"
	"geotxn/orderer"
	"geotxn/remaster"
	"geotxn/runtime"
	"geotxn/scheduler"
	"geotxn/sequencer"
	"geotxn/storage"
	"geotxn/transport"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	help = map[string]string{
		"orderer":     "run the multi-home orderer for this region",
		"sequencer":   "run the single-home sequencer for this partition",
		"interleaver": "run the interleaver for this partition",
		"scheduler":   "run the scheduler for this partition",
	}

	logger = flogging.MustGetLogger("geotxn")
)

// CLI is a kingpin application wrapping the ordering core's launchers.
type CLI struct {
	app         *kingpin.Application
	dispatchers map[string]func(configFile *os.File)
}

// NewCLI constructs a CLI with every module's launch command registered.
func NewCLI() *CLI {
	app := kingpin.New("geotxn", "Launches a deterministic transaction ordering core node")
	cli := &CLI{
		app:         app,
		dispatchers: make(map[string]func(configFile *os.File)),
	}
	cli.configureCommands()
	return cli
}

func (cli *CLI) command(name, help string, onCmd func(configFile *os.File)) {
	cli.app.Command(name, help)
	cli.dispatchers[name] = onCmd
}

func (cli *CLI) configureCommands() {
	for name, f := range map[string]func(configFile *os.File){
		"orderer":     launchOrderer,
		"sequencer":   launchSequencer,
		"interleaver": launchInterleaver,
		"scheduler":   launchScheduler,
	} {
		cli.command(name, help[name], f)
	}
}

// Run parses args, dispatches to the selected module's launcher, and
// blocks until it stops (either a fatal error or SIGINT/SIGTERM).
func (cli *CLI) Run(args []string) {
	configFile := cli.app.Flag("config", "Specifies the config file to load the configuration from").Required().File()
	command := kingpin.MustParse(cli.app.Parse(args))
	f, exists := cli.dispatchers[command]
	if !exists {
		fmt.Fprintf(os.Stderr, "command %s doesn't exist\n", command)
		os.Exit(2)
	}
	f(*configFile)
}

func loadConfig(configFile *os.File) *config.Configuration {
	cfg, err := config.Load(configFile.Name())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed loading configuration from %s: %v\n", configFile.Name(), err)
		os.Exit(2)
	}
	return cfg
}

func newTransport(logger logging.Logger, cfg *config.Configuration) *transport.GRPCTransport {
	return transport.NewGRPCTransport(logger, txnMachineID(cfg), staticAddressBook(cfg))
}

func runUntilSignal(sup *runtime.Supervisor) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Errorf("stopped with error: %v", err)
		os.Exit(1)
	}
}

func launchOrderer(configFile *os.File) {
	cfg := loadConfig(configFile)
	tr := newTransport(logging.New("orderer.transport"), cfg)
	grpcServer := serveGRPC(logging.New("orderer.transport"), tr, cfg)
	if grpcServer != nil {
		defer grpcServer.GracefulStop()
	}
	mon := metrics.NewMonitor(metrics.Endpoint{Host: "0.0.0.0", Port: 0}, "orderer")
	mon.Start()
	defer mon.Stop()

	o := orderer.New(logging.New("orderer"), cfg, tr).WithMetrics(metrics.NewOrdering(mon.Provider))

	sup := runtime.NewSupervisor(logging.New("orderer.supervisor"))
	sup.Add("orderer", o)
	runUntilSignal(sup)
}

func launchSequencer(configFile *os.File) {
	cfg := loadConfig(configFile)
	tr := newTransport(logging.New("sequencer.transport"), cfg)
	grpcServer := serveGRPC(logging.New("sequencer.transport"), tr, cfg)
	if grpcServer != nil {
		defer grpcServer.GracefulStop()
	}
	mon := metrics.NewMonitor(metrics.Endpoint{Host: "0.0.0.0", Port: 0}, "sequencer")
	mon.Start()
	defer mon.Stop()

	s := sequencer.New(logging.New("sequencer"), cfg, tr).WithMetrics(metrics.NewOrdering(mon.Provider))

	sup := runtime.NewSupervisor(logging.New("sequencer.supervisor"))
	sup.Add("sequencer", s)
	runUntilSignal(sup)
}

func launchInterleaver(configFile *os.File) {
	cfg := loadConfig(configFile)
	tr := newTransport(logging.New("interleaver.transport"), cfg)
	grpcServer := serveGRPC(logging.New("interleaver.transport"), tr, cfg)
	if grpcServer != nil {
		defer grpcServer.GracefulStop()
	}

	il := interleaver.New(logging.New("interleaver"), tr)

	sup := runtime.NewSupervisor(logging.New("interleaver.supervisor"))
	sup.Add("interleaver", il)
	runUntilSignal(sup)
}

func launchScheduler(configFile *os.File) {
	cfg := loadConfig(configFile)
	tr := newTransport(logging.New("scheduler.transport"), cfg)
	grpcServer := serveGRPC(logging.New("scheduler.transport"), tr, cfg)
	if grpcServer != nil {
		defer grpcServer.GracefulStop()
	}
	mon := metrics.NewMonitor(metrics.Endpoint{Host: "0.0.0.0", Port: 0}, "scheduler")
	mon.Start()
	defer mon.Stop()

	store := storage.NewInMemory()
	rm := remaster.New(logging.New("remaster"), store)
	exec := &loggingExecutor{logger: logging.New("executor")}

	sc := scheduler.New(logging.New("scheduler"), tr, rm, exec).WithMetrics(metrics.NewOrdering(mon.Provider))

	sup := runtime.NewSupervisor(logging.New("scheduler.supervisor"))
	sup.Add("scheduler", sc)
	runUntilSignal(sup)
}
