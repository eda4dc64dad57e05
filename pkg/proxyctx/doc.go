// Package proxyctx holds the request/response context model shared by every
// proxy mode.
//
// A RequestContext wraps one inbound request as an immutable Original
// snapshot plus a mutable Current working copy. Every mutation of the
// working copy is appended to an ordered modification log, and Rollback
// restores Current from Original. ResponseContext follows the same
// discipline for the outbound response.
//
// The Original snapshot, including the raw wire bytes, is never touched
// after construction: signed transmit endpoints depend on byte-exact
// forwarding for signature verification.
package proxyctx
