// Package network exposes a running simulation over ZeroMQ.
// This package implements:
// - PUB socket publishing every simulation event under its kind as topic
// - PULL socket accepting injected protocol messages
// - Replay protection for injected messages
package network
