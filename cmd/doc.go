// Package cmd implements the command-line interface of rbkv. It provides a
// hierarchical command structure for running the server and for working with
// index snapshots offline.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the HTTP server
//   - index: Commands operating on a snapshot file (set, get, del, dump, check, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable RBKV_<FLAG> (dashes
// replaced by underscores), .env and .env.local files are read on startup.
//
// See rbkv -help for a list of all commands.
package cmd
