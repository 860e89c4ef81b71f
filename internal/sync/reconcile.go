package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/store"
)

// RecordFailure is a per-record push failure. The record stays dirty and is
// retried on the next pass.
type RecordFailure struct {
	LocalID int64
	Err     error
}

// Outcome summarizes the reconciliation of one kind.
type Outcome struct {
	Kind schema.Kind

	// Succeeded lists the local ids whose push the remote service accepted.
	Succeeded []int64
	Failed    []RecordFailure

	// Remapped holds the remote ids bound to locally created records.
	Remapped map[int64]int64

	Applied   int // remote changes written to the store
	Removed   int // local rows removed by remote deletions
	Conflicts int // remote changes discarded in favor of a local edit

	// Completed is false when the kind was aborted or some remote change
	// could not be applied; the sync mark is only advanced when true.
	Completed bool
}

// Reconciler reconciles one kind at a time between a Store and a Gateway.
type Reconciler struct {
	store   Store
	gateway Gateway
	logger  *log.Logger
}

// NewReconciler creates a Reconciler.
// If logger is nil, a default logger writing to stderr is used.
func NewReconciler(st Store, gw Gateway, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Reconciler{
		store:   st,
		gateway: gw,
		logger:  logger,
	}
}

// Reconcile runs one kind through fetch, push, apply and mark.
//
// The returned error is non-nil when the kind did not fully reconcile. An
// unreachable service or a failing local store (wrapping ErrLocalStorage)
// aborts the kind; work committed before that stays committed. A fetch the
// service rejected or answered with garbage still lets the dirty records be
// pushed, but nothing is pulled and the sync mark stays put. Records the
// service rejected are reported in Outcome.Failed and do not abort the kind.
func (r *Reconciler) Reconcile(ctx context.Context, kind schema.Kind, remap *Remap) (*Outcome, error) {
	out := &Outcome{
		Kind:     kind,
		Remapped: make(map[int64]int64),
	}

	mark, err := r.store.SyncMark(ctx, kind)
	if err != nil {
		return out, storageErr("read sync mark", err)
	}

	changes, fetchErr := r.gateway.FetchChanges(ctx, kind, mark)
	if fetchErr == nil && changes == nil {
		fetchErr = Malformed("empty change set", nil)
	}
	if fetchErr != nil {
		fetchErr = fmt.Errorf("failed to fetch %s changes: %w", kind, fetchErr)
		if errors.Is(fetchErr, ErrTransportUnreachable) || ctx.Err() != nil {
			return out, fetchErr
		}
		r.logger.Printf("%v; pushing without pulling", fetchErr)
	}

	dirty, err := r.store.FindDirty(ctx, kind)
	if err != nil {
		return out, storageErr("load dirty records", err)
	}

	for _, rec := range dirty {
		err := r.push(ctx, rec, remap, out)
		if err == nil {
			out.Succeeded = append(out.Succeeded, rec.LocalID)
			continue
		}
		if errors.Is(err, ErrLocalStorage) {
			return out, err
		}
		if errors.Is(err, ErrTransportUnreachable) || ctx.Err() != nil {
			r.logger.Printf("Aborting %s push at local id %d: %v", kind, rec.LocalID, err)
			return out, fmt.Errorf("failed to push %s %d: %w", kind, rec.LocalID, err)
		}
		r.logger.Printf("Push failed for %s %d: %v", kind, rec.LocalID, err)
		out.Failed = append(out.Failed, RecordFailure{LocalID: rec.LocalID, Err: err})
	}

	if fetchErr != nil {
		return out, fetchErr
	}

	// Remote ids of records that were dirty when the pass began, including
	// ids bound by creates a moment ago.
	localWins := make(map[int64]bool, len(dirty))
	for _, rec := range dirty {
		if rec.HasRemoteID() {
			localWins[rec.RemoteID] = true
		}
		if id, ok := out.Remapped[rec.LocalID]; ok {
			localWins[id] = true
		}
	}

	complete := true
	for _, remote := range changes.Records {
		if localWins[remote.RemoteID] {
			out.Conflicts++
			continue
		}
		ok, err := r.apply(ctx, kind, remote, out)
		if err != nil {
			return out, err
		}
		if !ok {
			complete = false
		}
	}

	if !complete {
		r.logger.Printf("Keeping %s sync mark at %d: some remote changes were not applied", kind, mark)
		return out, nil
	}

	if changes.Mark != mark {
		if err := r.store.SetSyncMark(ctx, kind, changes.Mark); err != nil {
			return out, storageErr("persist sync mark", err)
		}
	}
	out.Completed = true
	return out, nil
}

// push sends one dirty record to the remote service.
func (r *Reconciler) push(ctx context.Context, rec *schema.Record, remap *Remap, out *Outcome) error {
	if rec.Deleted {
		if rec.HasRemoteID() {
			if err := r.gateway.Delete(ctx, rec.Kind, rec.RemoteID); err != nil {
				return err
			}
		}
		if err := r.store.Delete(ctx, rec.Kind, rec.LocalID); err != nil {
			return storageErr("remove tombstone", err)
		}
		return nil
	}

	if err := r.resolveParent(ctx, rec, remap); err != nil {
		return err
	}

	if rec.HasRemoteID() {
		canonical, err := r.gateway.Update(ctx, rec)
		if err != nil {
			return err
		}
		if canonical != nil && canonical.RemoteID > 0 && canonical.RemoteID != rec.RemoteID {
			return Malformed(fmt.Sprintf("update of %s %d answered for remote id %d", rec.Kind, rec.RemoteID, canonical.RemoteID), nil)
		}
		return r.clearDirty(ctx, rec)
	}

	canonical, err := r.gateway.Create(ctx, rec)
	if err != nil {
		return err
	}
	if canonical == nil || canonical.RemoteID <= 0 {
		return Malformed("response carries no remote id", nil)
	}

	err = r.store.BindRemoteID(ctx, rec.Kind, rec.LocalID, canonical.RemoteID)
	if errors.Is(err, store.ErrNotFound) {
		return r.dropOrphan(ctx, rec, canonical.RemoteID)
	}
	if err != nil {
		return storageErr("bind remote id", err)
	}
	remap.Put(rec.Kind, rec.LocalID, canonical.RemoteID)
	out.Remapped[rec.LocalID] = canonical.RemoteID

	return r.clearDirty(ctx, rec)
}

func (r *Reconciler) clearDirty(ctx context.Context, rec *schema.Record) error {
	cleared, err := r.store.ClearDirty(ctx, rec.Kind, rec.LocalID, rec.Stamp)
	if err != nil {
		return storageErr("clear dirty flag", err)
	}
	if !cleared {
		r.logger.Printf("%s %d was edited during the pass; it stays dirty", rec.Kind, rec.LocalID)
	}
	return nil
}

// dropOrphan handles a record the user deleted while its create was in
// flight. The new remote copy is deleted at once; if that fails a tombstone
// carrying the remote id is left for the next pass.
func (r *Reconciler) dropOrphan(ctx context.Context, rec *schema.Record, remoteID int64) error {
	r.logger.Printf("%s %d was deleted during its create; removing remote %d", rec.Kind, rec.LocalID, remoteID)

	err := r.gateway.Delete(ctx, rec.Kind, remoteID)
	if err == nil {
		return nil
	}
	if terr := r.store.InsertTombstone(ctx, rec.Kind, remoteID); terr != nil {
		return storageErr("record orphaned remote id", terr)
	}
	return err
}

// resolveParent fills in the remote id of the record's parent. Remote ids
// bound earlier in this pass win over whatever the store read returned.
func (r *Reconciler) resolveParent(ctx context.Context, rec *schema.Record, remap *Remap) error {
	parentKind := rec.Kind.Parent()
	if parentKind == "" {
		return nil
	}
	localID, remoteID := rec.ParentRef()
	if localID == 0 {
		return nil
	}

	if id, ok := remap.Get(parentKind, localID); ok {
		remoteID = id
	}
	if remoteID == 0 {
		parent, err := r.store.FindByLocalID(ctx, parentKind, localID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return storageErr("resolve parent", err)
		default:
			remoteID = parent.RemoteID
		}
	}
	if remoteID == 0 {
		return fmt.Errorf("%s %d references %s %d: %w", rec.Kind, rec.LocalID, parentKind, localID, ErrUnresolvedReference)
	}

	rec.SetParentRef(localID, remoteID)
	return nil
}

// apply writes one remote change into the store. It returns false when the
// change was skipped and must be fetched again on a later pass.
func (r *Reconciler) apply(ctx context.Context, kind schema.Kind, remote *schema.Record, out *Outcome) (bool, error) {
	remote.Kind = kind
	if remote.RemoteID <= 0 {
		r.logger.Printf("Skipping remote %s without id", kind)
		return false, nil
	}

	local, err := r.store.FindByRemoteID(ctx, kind, remote.RemoteID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, storageErr("look up remote record", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		local = nil
	}

	if remote.Deleted {
		if local == nil {
			return true, nil
		}
		if local.Dirty {
			out.Conflicts++
			return true, nil
		}
		if err := r.store.Delete(ctx, kind, local.LocalID); err != nil {
			return false, storageErr("apply remote delete", err)
		}
		out.Removed++
		return true, nil
	}

	if err := remote.Validate(); err != nil {
		r.logger.Printf("Skipping invalid remote %s %d: %v", kind, remote.RemoteID, err)
		return false, nil
	}

	if ok, err := r.localParent(ctx, remote); err != nil || !ok {
		return false, err
	}

	if local != nil {
		if local.SameContent(remote) {
			return true, nil
		}
		remote.LocalID = local.LocalID
	} else {
		remote.LocalID = 0
	}

	_, applied, err := r.store.Apply(ctx, remote)
	if err != nil {
		return false, storageErr("apply remote change", err)
	}
	if !applied {
		// Edited locally since the dirty set was read.
		out.Conflicts++
		return true, nil
	}
	out.Applied++
	return true, nil
}

// localParent maps the parent's remote id on an incoming record to its local
// id. Returns false if the parent is not in the store yet.
func (r *Reconciler) localParent(ctx context.Context, remote *schema.Record) (bool, error) {
	parentKind := remote.Kind.Parent()
	if parentKind == "" {
		return true, nil
	}
	_, remoteID := remote.ParentRef()
	if remoteID == 0 {
		remote.SetParentRef(0, 0)
		return true, nil
	}

	parent, err := r.store.FindByRemoteID(ctx, parentKind, remoteID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Printf("Deferring remote %s %d: %s %d not known locally", remote.Kind, remote.RemoteID, parentKind, remoteID)
		return false, nil
	}
	if err != nil {
		return false, storageErr("resolve remote parent", err)
	}
	remote.SetParentRef(parent.LocalID, remoteID)
	return true, nil
}
