package sync_test

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apprise/tracksync/internal/remote/remotetest"
	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/store"
	"github.com/apprise/tracksync/internal/sync"
)

type harness struct {
	db     *store.DB
	server *remotetest.Server
	coord  *sync.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "tracksync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	server := remotetest.New()
	return &harness{
		db:     db,
		server: server,
		coord:  sync.NewCoordinator(db, server, log.New(io.Discard, "", 0)),
	}
}

func (h *harness) create(t *testing.T, rec *schema.Record) *schema.Record {
	t.Helper()
	created, err := h.db.Create(context.Background(), rec)
	require.NoError(t, err)
	return created
}

func (h *harness) get(t *testing.T, kind schema.Kind, localID int64) *schema.Record {
	t.Helper()
	rec, err := h.db.FindByLocalID(context.Background(), kind, localID)
	require.NoError(t, err)
	return rec
}

func (h *harness) pass(t *testing.T) *sync.PassResult {
	t.Helper()
	result, _ := h.coord.RunPass(context.Background())
	require.NotNil(t, result)
	return result
}

func unreachableOn(op remotetest.Op, kind schema.Kind) remotetest.FailFunc {
	return func(o remotetest.Op, k schema.Kind, _ *schema.Record) error {
		if o == op && k == kind {
			return sync.Unreachable("connection refused", nil)
		}
		return nil
	}
}

func TestRunPass_PushesInDependencyOrder(t *testing.T) {
	h := newHarness(t)

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	project := h.create(t, &schema.Record{Kind: schema.KindProject, Name: "Website", ClientLocalID: client.LocalID})
	task := h.create(t, &schema.Record{
		Kind:           schema.KindTask,
		Description:    schema.StringPtr("design review"),
		Duration:       1800,
		Start:          time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
		ProjectLocalID: project.LocalID,
	})

	result := h.pass(t)
	require.True(t, result.Success, "pass failed: %v", result.Err)

	client = h.get(t, schema.KindClient, client.LocalID)
	project = h.get(t, schema.KindProject, project.LocalID)
	task = h.get(t, schema.KindTask, task.LocalID)

	for _, rec := range []*schema.Record{client, project, task} {
		require.True(t, rec.HasRemoteID(), "%s has no remote id", rec.Kind)
		require.False(t, rec.Dirty, "%s still dirty", rec.Kind)
	}

	remoteProject := h.server.Get(schema.KindProject, project.RemoteID)
	require.NotNil(t, remoteProject)
	require.Equal(t, client.RemoteID, remoteProject.ClientRemoteID)

	remoteTask := h.server.Get(schema.KindTask, task.RemoteID)
	require.NotNil(t, remoteTask)
	require.Equal(t, project.RemoteID, remoteTask.ProjectRemoteID)

	var creates []schema.Kind
	for _, c := range h.server.Calls() {
		if c.Op == remotetest.OpCreate {
			creates = append(creates, c.Kind)
		}
	}
	require.Equal(t, []schema.Kind{schema.KindClient, schema.KindProject, schema.KindTask}, creates)

	require.Equal(t, client.RemoteID, result.Outcome(schema.KindClient).Remapped[client.LocalID])
}

func TestRunPass_PushesDirtyRecordsInLocalIDOrder(t *testing.T) {
	h := newHarness(t)

	var ids []int64
	for _, name := range []string{"c", "a", "b"} {
		ids = append(ids, h.create(t, &schema.Record{Kind: schema.KindClient, Name: name}).LocalID)
	}

	result := h.pass(t)
	require.True(t, result.Success)
	require.Equal(t, ids, result.Outcome(schema.KindClient).Succeeded)

	// Remote ids are handed out in push order.
	var prev int64
	for _, id := range ids {
		rec := h.get(t, schema.KindClient, id)
		require.Greater(t, rec.RemoteID, prev)
		prev = rec.RemoteID
	}
}

func TestRunPass_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	h.create(t, &schema.Record{Kind: schema.KindProject, Name: "Website", ClientLocalID: client.LocalID})
	h.server.Seed(&schema.Record{Kind: schema.KindClient, Name: "Globex"})

	require.True(t, h.pass(t).Success)

	marks := func() map[schema.Kind]int64 {
		m := make(map[schema.Kind]int64)
		for _, kind := range schema.Kinds() {
			mark, err := h.db.SyncMark(ctx, kind)
			require.NoError(t, err)
			m[kind] = mark
		}
		return m
	}

	// The second pass may still move marks past the echo of the first
	// pass's pushes; from the third pass on nothing is written at all.
	var settled map[schema.Kind]int64
	for i := 0; i < 3; i++ {
		since := time.Now()
		h.server.ResetCalls()
		result := h.pass(t)
		require.True(t, result.Success)
		require.Zero(t, h.server.Mutations(), "pass %d made remote mutations", i+2)
		for _, out := range result.Outcomes {
			require.Empty(t, out.Succeeded, "%s pushed records", out.Kind)
			require.Zero(t, out.Applied, "%s applied changes", out.Kind)
			require.Zero(t, out.Removed, "%s removed records", out.Kind)
			require.Zero(t, out.Conflicts, "%s saw conflicts", out.Kind)
		}

		if i == 0 {
			settled = marks()
			continue
		}
		require.Equal(t, settled, marks(), "pass %d moved a sync mark", i+2)
		require.Empty(t, result.Changed, "pass %d reported changed records", i+2)
		for _, kind := range schema.Kinds() {
			changed, err := h.db.FindChangedSince(ctx, kind, since)
			require.NoError(t, err)
			require.Empty(t, changed, "pass %d wrote %s records", i+2, kind)
		}
	}
}

func TestRunPass_AppliesRemoteChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	remoteClient := h.server.Seed(&schema.Record{Kind: schema.KindClient, Name: "Initech"})
	remoteProject := h.server.Seed(&schema.Record{Kind: schema.KindProject, Name: "TPS", ClientRemoteID: remoteClient.RemoteID})

	result := h.pass(t)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Outcome(schema.KindClient).Applied)
	require.Equal(t, 1, result.Outcome(schema.KindProject).Applied)

	client, err := h.db.FindByRemoteID(ctx, schema.KindClient, remoteClient.RemoteID)
	require.NoError(t, err)
	require.False(t, client.Dirty)

	project, err := h.db.FindByRemoteID(ctx, schema.KindProject, remoteProject.RemoteID)
	require.NoError(t, err)
	require.Equal(t, client.LocalID, project.ClientLocalID)
	require.Equal(t, "Initech - TPS", project.ClientProjectName)

	h.server.Seed(&schema.Record{Kind: schema.KindClient, RemoteID: remoteClient.RemoteID, Name: "Initrode"})
	require.True(t, h.pass(t).Success)

	project = h.get(t, schema.KindProject, project.LocalID)
	require.Equal(t, "Initrode - TPS", project.ClientProjectName)

	h.server.Remove(schema.KindProject, remoteProject.RemoteID)
	result = h.pass(t)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Outcome(schema.KindProject).Removed)

	_, err = h.db.FindByLocalID(ctx, schema.KindProject, project.LocalID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunPass_LocalEditBeatsRemoteDelta(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Original"})
	require.True(t, h.pass(t).Success)
	client = h.get(t, schema.KindClient, client.LocalID)

	h.server.Seed(&schema.Record{Kind: schema.KindClient, RemoteID: client.RemoteID, Name: "Remote edit"})
	client.Name = "Local edit"
	require.NoError(t, h.db.Update(ctx, client))

	result := h.pass(t)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Outcome(schema.KindClient).Conflicts)

	require.Equal(t, "Local edit", h.get(t, schema.KindClient, client.LocalID).Name)
	require.Equal(t, "Local edit", h.server.Get(schema.KindClient, client.RemoteID).Name)
}

func TestRunPass_PartialFailureKeepsSiblings(t *testing.T) {
	h := newHarness(t)

	start := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	var tasks []*schema.Record
	for i, desc := range []string{"first", "second", "third"} {
		tasks = append(tasks, h.create(t, &schema.Record{
			Kind:        schema.KindTask,
			Description: schema.StringPtr(desc),
			Duration:    600,
			Start:       start.Add(time.Duration(i) * time.Hour),
		}))
	}

	h.server.FailWith(func(op remotetest.Op, kind schema.Kind, rec *schema.Record) error {
		if op == remotetest.OpCreate && rec.Description != nil && *rec.Description == "second" {
			return sync.Rejected(422, "duration too short")
		}
		return nil
	})

	result, err := h.coord.RunPass(context.Background())
	require.ErrorIs(t, err, sync.ErrRemoteRejected)
	require.False(t, result.Success)
	require.Equal(t, sync.ReasonRemoteRejected, result.Reason)

	out := result.Outcome(schema.KindTask)
	require.Equal(t, []int64{tasks[0].LocalID, tasks[2].LocalID}, out.Succeeded)
	require.Len(t, out.Failed, 1)
	require.Equal(t, tasks[1].LocalID, out.Failed[0].LocalID)

	first, second, third := h.get(t, schema.KindTask, tasks[0].LocalID), h.get(t, schema.KindTask, tasks[1].LocalID), h.get(t, schema.KindTask, tasks[2].LocalID)
	require.True(t, first.HasRemoteID())
	require.False(t, first.Dirty)
	require.True(t, third.HasRemoteID())
	require.False(t, third.Dirty)
	require.False(t, second.HasRemoteID())
	require.True(t, second.Dirty)

	h.server.FailWith(nil)
	require.True(t, h.pass(t).Success)
	second = h.get(t, schema.KindTask, tasks[1].LocalID)
	require.True(t, second.HasRemoteID())
	require.False(t, second.Dirty)
}

func TestRunPass_TombstoneRetriedUntilRemoteDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	require.True(t, h.pass(t).Success)
	client = h.get(t, schema.KindClient, client.LocalID)

	tomb, err := h.db.MarkDeleted(ctx, schema.KindClient, client.LocalID)
	require.NoError(t, err)
	require.True(t, tomb)

	h.server.FailWith(unreachableOn(remotetest.OpDelete, schema.KindClient))
	result := h.pass(t)
	require.False(t, result.Success)
	require.Equal(t, sync.ReasonNetworkUnreachable, result.Reason)

	rec := h.get(t, schema.KindClient, client.LocalID)
	require.True(t, rec.Deleted)
	require.True(t, rec.Dirty)
	require.NotNil(t, h.server.Get(schema.KindClient, client.RemoteID))

	h.server.FailWith(nil)
	require.True(t, h.pass(t).Success)

	_, err = h.db.FindByLocalID(ctx, schema.KindClient, client.LocalID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Nil(t, h.server.Get(schema.KindClient, client.RemoteID))
}

func TestRunPass_PureLocalDeleteNeverReachesRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	project := h.create(t, &schema.Record{Kind: schema.KindProject, Name: "Draft"})
	tomb, err := h.db.MarkDeleted(ctx, schema.KindProject, project.LocalID)
	require.NoError(t, err)
	require.False(t, tomb)

	require.True(t, h.pass(t).Success)
	require.Zero(t, h.server.Mutations())
}

func TestRunPass_UnreachableAbortsKindButLaterKindsRun(t *testing.T) {
	h := newHarness(t)

	c1 := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "A"})
	h.create(t, &schema.Record{Kind: schema.KindClient, Name: "B"})
	project := h.create(t, &schema.Record{Kind: schema.KindProject, Name: "P", ClientLocalID: c1.LocalID})
	standalone := h.create(t, &schema.Record{Kind: schema.KindProject, Name: "Internal"})

	h.server.FailWith(unreachableOn(remotetest.OpCreate, schema.KindClient))
	result, err := h.coord.RunPass(context.Background())
	require.ErrorIs(t, err, sync.ErrTransportUnreachable)
	require.Equal(t, sync.ReasonNetworkUnreachable, result.Reason)

	clientCreates := 0
	for _, c := range h.server.Calls() {
		if c.Op == remotetest.OpCreate && c.Kind == schema.KindClient {
			clientCreates++
		}
	}
	require.Equal(t, 1, clientCreates, "push continued after the service became unreachable")

	out := result.Outcome(schema.KindProject)
	require.NotNil(t, out)
	require.Equal(t, []int64{standalone.LocalID}, out.Succeeded)
	require.Len(t, out.Failed, 1)
	require.Equal(t, project.LocalID, out.Failed[0].LocalID)
	require.ErrorIs(t, out.Failed[0].Err, sync.ErrUnresolvedReference)
	require.True(t, h.get(t, schema.KindProject, project.LocalID).Dirty)

	h.server.FailWith(nil)
	require.True(t, h.pass(t).Success)
	require.False(t, h.get(t, schema.KindProject, project.LocalID).Dirty)
}

func TestRunPass_FetchFailureSkipsPushAndMark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	h.server.FailWith(unreachableOn(remotetest.OpFetch, schema.KindClient))

	result := h.pass(t)
	require.False(t, result.Success)
	require.Zero(t, h.server.Mutations())

	mark, err := h.db.SyncMark(ctx, schema.KindClient)
	require.NoError(t, err)
	require.Zero(t, mark)
}

func TestRunPass_RejectedFetchStillPushes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	h.server.Seed(&schema.Record{Kind: schema.KindClient, Name: "Globex"})
	h.server.FailWith(func(op remotetest.Op, kind schema.Kind, _ *schema.Record) error {
		if op == remotetest.OpFetch && kind == schema.KindClient {
			return sync.Rejected(403, "listing clients is not allowed")
		}
		return nil
	})

	result, err := h.coord.RunPass(ctx)
	require.ErrorIs(t, err, sync.ErrRemoteRejected)
	require.Equal(t, sync.ReasonRemoteRejected, result.Reason)

	out := result.Outcome(schema.KindClient)
	require.Equal(t, []int64{client.LocalID}, out.Succeeded)
	require.False(t, out.Completed)
	require.Zero(t, out.Applied)

	rec := h.get(t, schema.KindClient, client.LocalID)
	require.True(t, rec.HasRemoteID())
	require.False(t, rec.Dirty)

	mark, err := h.db.SyncMark(ctx, schema.KindClient)
	require.NoError(t, err)
	require.Zero(t, mark)

	// Later kinds still ran.
	require.NotNil(t, result.Outcome(schema.KindTask))

	h.server.FailWith(nil)
	require.True(t, h.pass(t).Success)
	_, err = h.db.FindByRemoteID(ctx, schema.KindClient, h.server.List(schema.KindClient)[0].RemoteID)
	require.NoError(t, err, "remote client was not pulled once the fetch worked again")
}

func TestRunPass_DeleteDuringCreateRemovesRemoteCopy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doomed := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "A"})
	sibling := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "B"})

	h.server.FailWith(func(op remotetest.Op, kind schema.Kind, rec *schema.Record) error {
		if op == remotetest.OpCreate && rec.Name == "A" {
			_, err := h.db.MarkDeleted(ctx, schema.KindClient, doomed.LocalID)
			require.NoError(t, err)
		}
		return nil
	})

	result := h.pass(t)
	require.True(t, result.Success, "pass failed: %v", result.Err)
	h.server.FailWith(nil)

	rec := h.get(t, schema.KindClient, sibling.LocalID)
	require.True(t, rec.HasRemoteID())
	require.False(t, rec.Dirty)

	remote := h.server.List(schema.KindClient)
	require.Len(t, remote, 1)
	require.Equal(t, "B", remote[0].Name)

	for i := 0; i < 2; i++ {
		require.True(t, h.pass(t).Success)
	}
	active, err := h.db.ListActive(ctx, schema.KindClient)
	require.NoError(t, err)
	require.Len(t, active, 1, "deleted client came back")
	require.Equal(t, "B", active[0].Name)
}

func TestRunPass_DeleteDuringCreateLeavesTombstoneWhenUnreachable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doomed := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "A"})

	h.server.FailWith(func(op remotetest.Op, kind schema.Kind, _ *schema.Record) error {
		switch op {
		case remotetest.OpCreate:
			_, err := h.db.MarkDeleted(ctx, schema.KindClient, doomed.LocalID)
			require.NoError(t, err)
		case remotetest.OpDelete:
			return sync.Unreachable("connection reset", nil)
		}
		return nil
	})

	result := h.pass(t)
	require.Equal(t, sync.ReasonNetworkUnreachable, result.Reason)
	require.Len(t, h.server.List(schema.KindClient), 1)

	dirty, err := h.db.FindDirty(ctx, schema.KindClient)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	require.True(t, dirty[0].Deleted)

	h.server.FailWith(nil)
	require.True(t, h.pass(t).Success)
	require.Empty(t, h.server.List(schema.KindClient))

	require.True(t, h.pass(t).Success)
	active, err := h.db.ListActive(ctx, schema.KindClient)
	require.NoError(t, err)
	require.Empty(t, active)
}

// bodilessUpdates acknowledges updates without returning the record.
type bodilessUpdates struct {
	*remotetest.Server
}

func (g bodilessUpdates) Update(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	if _, err := g.Server.Update(ctx, rec); err != nil {
		return nil, err
	}
	return nil, nil
}

func TestRunPass_UpdateWithoutCanonicalRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	coord := sync.NewCoordinator(h.db, bodilessUpdates{h.server}, log.New(io.Discard, "", 0))

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Before"})
	require.True(t, h.pass(t).Success)

	client = h.get(t, schema.KindClient, client.LocalID)
	client.Name = "After"
	require.NoError(t, h.db.Update(ctx, client))

	result, err := coord.RunPass(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, h.get(t, schema.KindClient, client.LocalID).Dirty)
	require.Equal(t, "After", h.server.Get(schema.KindClient, client.RemoteID).Name)
}

func TestRunPass_ChildrenKeepTheirParents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	project := h.create(t, &schema.Record{Kind: schema.KindProject, Name: "Website", ClientLocalID: client.LocalID})

	_, err := h.db.MarkDeleted(ctx, schema.KindClient, client.LocalID)
	require.ErrorIs(t, err, store.ErrHasChildren)

	require.True(t, h.pass(t).Success)
	require.False(t, h.get(t, schema.KindProject, project.LocalID).Dirty)

	// Once the project is gone its client can go too.
	_, err = h.db.MarkDeleted(ctx, schema.KindProject, project.LocalID)
	require.NoError(t, err)
	_, err = h.db.MarkDeleted(ctx, schema.KindClient, client.LocalID)
	require.NoError(t, err)

	require.True(t, h.pass(t).Success)
	require.Empty(t, h.server.List(schema.KindProject))
	require.Empty(t, h.server.List(schema.KindClient))
}

func TestRunPass_EditDuringPushStaysDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client := h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Before"})

	h.server.FailWith(func(op remotetest.Op, kind schema.Kind, _ *schema.Record) error {
		if op == remotetest.OpCreate && kind == schema.KindClient {
			edit := h.get(t, schema.KindClient, client.LocalID)
			edit.Name = "After"
			require.NoError(t, h.db.Update(ctx, edit))
		}
		return nil
	})

	require.True(t, h.pass(t).Success)
	h.server.FailWith(nil)

	rec := h.get(t, schema.KindClient, client.LocalID)
	require.True(t, rec.HasRemoteID())
	require.True(t, rec.Dirty, "edit made during the push was lost")
	require.Equal(t, "Before", h.server.Get(schema.KindClient, rec.RemoteID).Name)

	require.True(t, h.pass(t).Success)
	require.False(t, h.get(t, schema.KindClient, client.LocalID).Dirty)
	require.Equal(t, "After", h.server.Get(schema.KindClient, rec.RemoteID).Name)
}

func TestRunPass_RejectsConcurrentPass(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})
	h.server.FailWith(func(op remotetest.Op, kind schema.Kind, _ *schema.Record) error {
		if op == remotetest.OpFetch && kind == schema.KindUser {
			close(started)
			<-release
		}
		return nil
	})

	events, cancel := h.coord.Subscribe(4)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.RunPass(context.Background())
		done <- err
	}()

	<-started
	require.True(t, h.coord.Running())
	result, err := h.coord.RunPass(context.Background())
	require.ErrorIs(t, err, sync.ErrAlreadyRunning)
	require.Nil(t, result)

	close(release)
	require.NoError(t, <-done)

	<-events
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestSubscribe_OneEventPerPass(t *testing.T) {
	h := newHarness(t)

	events, cancel := h.coord.Subscribe(4)
	defer cancel()

	h.create(t, &schema.Record{Kind: schema.KindClient, Name: "Acme"})
	first := h.pass(t)

	h.server.FailWith(unreachableOn(remotetest.OpFetch, schema.KindUser))
	second := h.pass(t)

	got1 := <-events
	got2 := <-events
	require.Equal(t, first.ID, got1.ID)
	require.True(t, got1.Success)
	require.Equal(t, second.ID, got2.ID)
	require.False(t, got2.Success)
	require.Equal(t, sync.ReasonNetworkUnreachable, got2.Reason)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestSubscribe_FullBufferDoesNotBlock(t *testing.T) {
	h := newHarness(t)

	slow, cancelSlow := h.coord.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := h.coord.Subscribe(4)
	defer cancelFast()

	for i := 0; i < 3; i++ {
		h.pass(t)
	}

	require.Len(t, slow, 1)
	require.Len(t, fast, 3)

	cancelSlow()
	_, open := <-slow
	require.True(t, open, "buffered event should still be readable")
	_, open = <-slow
	require.False(t, open)
}

// failingStore fails loading dirty records of one kind.
type failingStore struct {
	*store.DB
	kind schema.Kind
}

func (s *failingStore) FindDirty(ctx context.Context, kind schema.Kind) ([]*schema.Record, error) {
	if kind == s.kind {
		return nil, errors.New("disk I/O error")
	}
	return s.DB.FindDirty(ctx, kind)
}

func TestRunPass_StorageFailureStopsPass(t *testing.T) {
	h := newHarness(t)
	coord := sync.NewCoordinator(&failingStore{DB: h.db, kind: schema.KindClient}, h.server, log.New(io.Discard, "", 0))

	h.create(t, &schema.Record{Kind: schema.KindTask, Start: time.Now(), Duration: 60})

	result, err := coord.RunPass(context.Background())
	require.ErrorIs(t, err, sync.ErrLocalStorage)
	require.Equal(t, sync.ReasonLocalStorage, result.Reason)
	require.Nil(t, result.Outcome(schema.KindTask), "pass continued after a storage failure")
	require.NotNil(t, result.Outcome(schema.KindClient))
}
