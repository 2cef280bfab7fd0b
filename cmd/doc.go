// Package cmd implements the command-line interface of dLock.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting a dLock node and printing its configuration
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dlock -help for a list of all commands.
package cmd
