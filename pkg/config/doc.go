// Package config provides configuration types and loading for dproxy.
//
// Configuration covers the proxy listener, the forwarding layer (retries,
// timeouts, connection pool, the TLS-evasion subprocess), endpoint
// classification (secure, public, signed-transmit), session create rules,
// and replay fallback behavior. Files are YAML; see Default() for the
// values used when a field is omitted.
package config
