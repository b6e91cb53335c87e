// Package cryptoutils provides the cryptographic primitives of the key pool
// system: secure random key material generation, Shannon entropy measurement
// of generated material, and TLS configuration for the mutually authenticated
// channel between pool services.
package cryptoutils
