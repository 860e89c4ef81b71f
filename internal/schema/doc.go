// Package schema defines the record model shared by the store, the remote
// gateway and the sync engine.
//
// # Entities
//
// Four entity kinds are synchronized, always in dependency order:
//
//	User → Client → Project → Task
//
// Projects reference a Client and Tasks reference a Project. Every record
// carries two identities:
//
//   - LocalID: assigned by the local store at creation, immutable, never reused
//   - RemoteID: assigned by the remote service on first successful sync (0 until then)
//
// Foreign references are kept as both a local id (always present when the
// reference is set) and a remote id (resolved during sync).
//
// # Dirty State
//
// A record is dirty when it has local edits (or a local creation) that the
// remote service has not yet accepted. Each local edit bumps Stamp, so a sync
// pass that observed an older stamp cannot clear a newer edit.
//
// Deleted marks a tombstone: the record was deleted locally but the remote
// delete has not been confirmed yet. Tombstones are hidden from active
// listings and retried on every pass.
//
// # Design Principles
//
//   - Flat struct (one shape for all kinds, unused fields stay zero)
//   - Last-writer-wins: an update always carries the full field set
//   - No external validation libraries
package schema
