// Package invites turns meeting commitments found in call summaries into
// calendar invites posted to the scheduling endpoint.
package invites
