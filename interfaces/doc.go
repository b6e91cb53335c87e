// Package interfaces defines the core types and contracts of the key pool
// system. It provides the boundary between the pool backends (local engine,
// remote protocol client) and their callers without implementation details.
//
// The central contract is PoolBackend: the four-operation capability set
// (status, allocate, fetch by id, mark consumed) that both the local
// transactional engine and the remote mTLS client implement. Encryption-level
// consumers program against PoolBackend and never care which side of the
// network the pool lives on.
package interfaces
