// Command dialqueue runs the outbound call queue daemon and provides
// configuration and queue management utilities.
package main
