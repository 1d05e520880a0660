// Package dispatch drives the outbound call queue.
//
// The engine enforces single-flight dispatch (at most one call live at a
// time) and watches live calls through a bounded status poller. Three
// racing signals can report a call's end: the provider webhook, the status
// poller, and the reaper sweep. They are reconciled through one rule:
// deleting the queue row is the claim, and only the deleter finalizes the
// call. Everything after the claim (outcome recording, summary notes,
// invites) is applied exactly once per call.
package dispatch
