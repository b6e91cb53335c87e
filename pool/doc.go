// Package pool implements the local pool engine: the allocation and
// consumption protocol over the transactional store, serialized per pool.
//
// Each pool is a unit of mutual exclusion. Any read-then-write sequence on
// one pool (allocation, refill, generation) runs under that pool's lock;
// operations on different pools never contend. Status and fetch are
// lock-free reads served from a consistent store snapshot.
package pool
