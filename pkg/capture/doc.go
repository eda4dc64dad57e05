// Package capture defines the persisted request/response pair model and the
// persistence collaborator contract consumed by recording and replay modes.
//
// The storage implementation behind Repository is pluggable; the in-memory
// MemoryRepository ships for tests and standalone runs.
package capture
