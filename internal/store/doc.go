// Package store persists contacts, messages and channels.
//
// Two drivers: an in-process memory store and a sqlite store (modernc,
// cgo-free, WAL). The Store interface is the boundary the routing and
// automation layers consume.
package store
