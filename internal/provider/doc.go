// Package provider talks to the conversational voice-call platform: call
// placement through the agent API, call status through the telephony
// carrier API, and transcript retrieval for finished conversations.
package provider
