// Package common provides the configuration and logging shared by the dLock
// command line and the packages it wires together.
//
// Key Components:
//
//   - ServerConfig: configuration of a node. It lists the shards to host (a
//     local store or a raft replicated store per shard), the locker settings
//     (identity preset, default ttl, sweep window) and the Dragonboat
//     parameters. ToDragonboatConfig and ToNodeHostConfig derive the raft
//     configuration, ParseShards and ParseClusterMembers read the flag formats.
//
//   - Logger: a Dragonboat logger.Factory with a compact line format.
//     InitLoggers installs it and applies the configured level.
package common
