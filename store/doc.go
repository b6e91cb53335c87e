// Package store implements the durable side of the key pool system: the key
// record table, the per-entity pool registry and the append-only delivery
// ledger, backed by a transactional SQL database through gorm.
//
// Every mutating operation runs inside a single database transaction so a
// pool's counters and its key record transitions are never visible half
// applied. The store itself does not serialize concurrent writers to one
// pool; that is the pool engine's job (see package pool).
package store
