package sync

import (
	"context"
	"time"

	"github.com/apprise/tracksync/internal/schema"
)

// Store is the local record store as seen by the sync engine.
//
// Lookups return an error wrapping store.ErrNotFound when no record matches.
// *store.DB implements Store.
type Store interface {
	// FindDirty returns the dirty records of a kind, tombstones included,
	// ordered by ascending local id.
	FindDirty(ctx context.Context, kind schema.Kind) ([]*schema.Record, error)

	// FindChangedSince returns records of a kind written after since.
	FindChangedSince(ctx context.Context, kind schema.Kind, since time.Time) ([]*schema.Record, error)

	// Apply writes remote state. A record with LocalID 0 is inserted clean;
	// otherwise the row is overwritten only if it is still clean.
	Apply(ctx context.Context, rec *schema.Record) (localID int64, applied bool, err error)

	// Delete removes a row outright.
	Delete(ctx context.Context, kind schema.Kind, localID int64) error

	// BindRemoteID records the server-assigned id of a local record.
	BindRemoteID(ctx context.Context, kind schema.Kind, localID, remoteID int64) error

	// InsertTombstone records a remote id whose local row is gone, so the
	// next pass deletes it remotely.
	InsertTombstone(ctx context.Context, kind schema.Kind, remoteID int64) error

	// ClearDirty clears the dirty flag if the record's stamp still matches.
	ClearDirty(ctx context.Context, kind schema.Kind, localID, stamp int64) (bool, error)

	FindByLocalID(ctx context.Context, kind schema.Kind, localID int64) (*schema.Record, error)
	FindByRemoteID(ctx context.Context, kind schema.Kind, remoteID int64) (*schema.Record, error)

	SyncMark(ctx context.Context, kind schema.Kind) (int64, error)
	SetSyncMark(ctx context.Context, kind schema.Kind, mark int64) error
}

// Gateway is the remote service as seen by the sync engine.
//
// Records crossing the gateway carry remote ids only: RemoteID and the
// parent's remote id (ClientRemoteID, ProjectRemoteID). Failures are
// reported as *GatewayError.
type Gateway interface {
	// Create creates a record remotely and returns the canonical record with
	// its server-assigned id. The record's GUID lets the server recognize a
	// retried create.
	Create(ctx context.Context, rec *schema.Record) (*schema.Record, error)

	// Update replaces the remote record with the full local field set. The
	// returned record may be nil or lack an id when the service answers
	// without a body.
	Update(ctx context.Context, rec *schema.Record) (*schema.Record, error)

	// Delete deletes a remote record. Deleting a record that no longer
	// exists succeeds.
	Delete(ctx context.Context, kind schema.Kind, remoteID int64) error

	// FetchChanges returns the records of a kind changed after the given
	// mark, remote deletions included (Deleted set).
	FetchChanges(ctx context.Context, kind schema.Kind, since int64) (*ChangeSet, error)
}

// ChangeSet is a batch of remote changes for one kind.
type ChangeSet struct {
	Records []*schema.Record
	// Mark is the remote change mark to pass as since on the next fetch.
	Mark int64
}
