// Package sync reconciles the local record store with the remote service.
//
// Overview
//
// The local store is the source of truth for the user interface. Every local
// create, edit or delete marks a record dirty. A sync pass pushes dirty
// records to the remote service, pulls what changed remotely since the last
// pass, and merges the two.
//
// Architecture
//
//	Coordinator.RunPass
//	     │
//	     ├── users    ─┐
//	     ├── clients   │  Reconciler.Reconcile(kind, remap)
//	     ├── projects  │     1. fetch remote changes since the kind's mark
//	     └── tasks    ─┘     2. push dirty records (ascending local id)
//	                         3. apply remote changes to clean records
//	                         4. persist the new mark
//	                                   ↓
//	                           PassResult → subscribers
//
// Kinds run in dependency order and share one Remap, so a project created in
// the same pass as its client is pushed with the client's freshly assigned
// remote id.
//
// Conflicts
//
// A record that was dirty when the pass started always wins over a remote
// delta for the same record. The remote delta is discarded and counted as a
// conflict; the local version is pushed instead.
//
// Error Handling
//
//   - A record the remote service rejects stays dirty; its siblings continue
//   - An unreachable service aborts the rest of the kind; later kinds still run
//   - A local storage failure stops the pass
//
// The coordinator publishes exactly one PassResult per pass.
//
// Usage
//
//	database, err := store.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	coord := sync.NewCoordinator(database, gateway, nil)
//	events, cancel := coord.Subscribe(4)
//	defer cancel()
//
//	result, err := coord.RunPass(ctx)
package sync
