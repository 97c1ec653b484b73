/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config carries the topology and channel constants every module in
// the ordering core is built against: replica/partition counts, machine-id
// encoding, and the per-module channel names. It mirrors the teacher's
// NodeLocalConfig in shape (YAML-tagged, immutable after Load) but carries
// the ordering core's own topology fields.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MaxMachines is the topology constant K used to encode BatchIds
// (batch_id = counter*K + machine_id). It must exceed any machine id that
// can occur in the deployment; 1<<20 comfortably covers any realistic
// replica*partition topology without coupling BatchId encoding to the
// configured NumReplicas/NumPartitions at runtime.
const MaxMachines = 1 << 20

// PartitioningMode selects how keys are assigned to partitions.
type PartitioningMode string

const (
	PartitioningSimple PartitioningMode = "simple"
	PartitioningHash   PartitioningMode = "hash"
)

// Channel names the per-module inbound queue a message is delivered to,
// either across machines (via Transport.Send) or within a process
// (via Transport.SendLocal).
type Channel string

const (
	MultiHomeOrdererChannel Channel = "multi_home_orderer"
	SequencerChannel        Channel = "sequencer"
	SchedulerChannel        Channel = "scheduler"
	LocalLogChannel         Channel = "local_log"
	InterleaverChannel      Channel = "interleaver"
	GlobalPaxosChannel      Channel = "global_paxos"
	LocalPaxosChannel       Channel = "local_paxos"
)

// Configuration is the topology every module is constructed with. It is
// read once at startup and never mutated afterward; modules may retain a
// pointer to it and share it freely across goroutines.
type Configuration struct {
	// LocalMachineID is this process's own machine id, used when encoding
	// BatchIds it originates.
	LocalMachineID uint64 `yaml:"LocalMachineID"`
	// NumReplicas is the number of regions in the topology.
	NumReplicas uint32 `yaml:"NumReplicas"`
	// NumPartitions is the number of partitions per region.
	NumPartitions uint32 `yaml:"NumPartitions"`
	// LeaderPartitionForMultiHomeOrdering is the partition, within every
	// region, that runs the MultiHomeOrderer.
	LeaderPartitionForMultiHomeOrdering uint32 `yaml:"LeaderPartitionForMultiHomeOrdering"`
	// PartitioningMode selects the key-to-partition assignment function.
	PartitioningMode PartitioningMode `yaml:"PartitioningMode"`
	// TickPeriodMs is the period, in milliseconds, at which the
	// MultiHomeOrderer cuts a batch from its accumulated transactions.
	TickPeriodMs uint32 `yaml:"TickPeriodMs"`
	// DistanceRanking maps a region to its remote regions ordered by
	// proximity, nearest first. Index is region id; value excludes the
	// region itself.
	DistanceRanking [][]uint32 `yaml:"DistanceRanking,omitempty"`
	// ListenAddress is the address this process's gRPC transport listens
	// on, in host:port form.
	ListenAddress string `yaml:"ListenAddress,omitempty"`
	// Peers maps every other machine id in the topology to the address
	// its gRPC transport listens on.
	Peers map[uint64]string `yaml:"Peers,omitempty"`
}

// Load reads and parses a Configuration from a YAML file at path.
func Load(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
	}

	var cfg Configuration
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration file %q", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// Validate checks the configuration for internal consistency. Configuration
// inconsistency is a fatal condition per the core's error handling design;
// callers are expected to halt the process on a non-nil return.
func (c *Configuration) Validate() error {
	if c.NumReplicas == 0 {
		return errors.New("NumReplicas must be > 0")
	}
	if c.NumPartitions == 0 {
		return errors.New("NumPartitions must be > 0")
	}
	if c.LeaderPartitionForMultiHomeOrdering >= c.NumPartitions {
		return errors.Errorf("LeaderPartitionForMultiHomeOrdering %d out of range [0,%d)",
			c.LeaderPartitionForMultiHomeOrdering, c.NumPartitions)
	}
	switch c.PartitioningMode {
	case PartitioningSimple, PartitioningHash, "":
	default:
		return errors.Errorf("unknown PartitioningMode %q", c.PartitioningMode)
	}
	return nil
}

// DistanceRankingFrom returns the remote regions ordered by proximity to
// region, nearest first. Returns nil if no ranking was configured for it.
func (c *Configuration) DistanceRankingFrom(region uint32) []uint32 {
	if int(region) >= len(c.DistanceRanking) {
		return nil
	}
	return c.DistanceRanking[region]
}

// MakeMachineId encodes a (replica, partition) pair into a single MachineId,
// as described in the data model: replica*P + partition.
func (c *Configuration) MakeMachineId(replica, partition uint32) uint64 {
	return uint64(replica)*uint64(c.NumPartitions) + uint64(partition)
}

// SplitMachineId decodes a MachineId back into its (replica, partition)
// components. It is the inverse of MakeMachineId.
func (c *Configuration) SplitMachineId(machineID uint64) (replica, partition uint32) {
	p := uint64(c.NumPartitions)
	return uint32(machineID / p), uint32(machineID % p)
}

// LocalMultiHomeOrdererMachineId returns the MachineId of this region's
// MultiHomeOrderer leader partition.
func (c *Configuration) LocalMultiHomeOrdererMachineId() uint64 {
	replica, _ := c.SplitMachineId(c.LocalMachineID)
	return c.MakeMachineId(replica, c.LeaderPartitionForMultiHomeOrdering)
}

// IsMultiHomeOrdererLeader reports whether this process's own machine id is
// the multi-home ordering leader for its region.
func (c *Configuration) IsMultiHomeOrdererLeader() bool {
	return c.LocalMachineID == c.LocalMultiHomeOrdererMachineId()
}
