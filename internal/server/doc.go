// Package server exposes the call queue over HTTP: workbook uploads feed
// the queue, the provider webhook finalizes calls, and a set of admin
// endpoints inspects and edits pending entries. Handlers stay thin; queue
// semantics live in the dispatch engine and the store.
package server
