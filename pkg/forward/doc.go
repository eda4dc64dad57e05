// Package forward executes outbound backend calls for the proxy.
//
// Three execution strategies are selected per request:
//
//   - the pooled keep-alive HTTP client, with exponential-backoff retries
//     (the default for plain HTTP)
//   - an external subprocess HTTP client for HTTPS, because the
//     in-process TLS handshake fingerprint is detectable by upstream
//     bot-mitigation
//   - a raw socket that writes the captured request bytes verbatim, for
//     signed transmit endpoints whose signatures cover the exact wire form
//
// All strategies share one result contract: a populated ResponseContext
// with latency on success, and on exhausted retries an error
// ResponseContext (502/504) returned alongside an *Error that carries it,
// so callers can still record the failed attempt.
package forward
