// Package daemon assembles the long-running dialqueue process: the SQLite
// queue store, the dispatch engine with its reaper, and the HTTP API. A
// file lock keeps a host to a single instance.
package daemon
