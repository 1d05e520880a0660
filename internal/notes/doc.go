// Package notes holds the call intelligence built on the chat client:
// personalized opening lines before a call and transcript summaries after
// it. Both degrade gracefully; neither is allowed to block a call.
package notes
