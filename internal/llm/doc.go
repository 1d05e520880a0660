// Package llm provides a retrying client for OpenAI-compatible chat
// completion APIs, used for greeting generation and transcript
// summarization.
package llm
