// Package ingest moves lead data between Excel workbooks and the profile
// store: bulk load on upload, report export with call outcomes.
package ingest
