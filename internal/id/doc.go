// Package id provides unique identifier generation utilities.
// This is the canonical source for ID generation across the codebase.
package id
