// Package client provides the Go SDK for the livechat lease gateway.
//
// Client wraps the HTTP API: lease actions (lock, unlock, extend), the
// reconciliation status read, outbound message sends and feature flags.
// SessionMonitor builds on Client to mirror one conversation's lease state
// locally: optimistic transitions with rollback, a settle window that
// serializes exclusive actions, a per-second countdown to local expiry,
// and periodic reconciliation where the remote state always wins.
package client
