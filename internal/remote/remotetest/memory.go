// Package remotetest provides an in-memory remote service for tests.
//
// Server implements sync.Gateway with the semantics of the real service:
// it assigns remote ids, deduplicates creates by GUID, checks parent
// references, keeps a change log with a monotonic mark, and answers
// FetchChanges from it. Failures can be injected per call.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/sync"
)

// Op names a gateway operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpFetch  Op = "fetch"
)

// Call is one recorded gateway call.
type Call struct {
	Op       Op
	Kind     schema.Kind
	RemoteID int64
	GUID     string
}

// FailFunc decides whether a call fails. Returning nil lets it through.
// rec is nil for delete and fetch.
type FailFunc func(op Op, kind schema.Kind, rec *schema.Record) error

type entry struct {
	rec *schema.Record
	seq int64
}

// Server is an in-memory authoritative remote service. Safe for concurrent
// use.
type Server struct {
	mu      stdsync.Mutex
	nextID  int64
	seq     int64
	records map[schema.Kind]map[int64]*entry
	guids   map[string]int64
	fail    FailFunc
	calls   []Call
}

// New creates an empty server.
func New() *Server {
	return &Server{
		nextID:  1000,
		records: make(map[schema.Kind]map[int64]*entry),
		guids:   make(map[string]int64),
	}
}

// FailWith installs a failure hook; nil removes it.
func (s *Server) FailWith(f FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

// Calls returns the calls made so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Mutations returns the number of create, update and delete calls.
func (s *Server) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op != OpFetch {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Get returns a copy of a live remote record, or nil.
func (s *Server) Get(kind schema.Kind, remoteID int64) *schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[kind][remoteID]
	if !ok || e.rec.Deleted {
		return nil
	}
	return clone(e.rec)
}

// List returns copies of the live records of a kind ordered by remote id.
func (s *Server) List(kind schema.Kind) []*schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*schema.Record
	for _, e := range s.records[kind] {
		if !e.rec.Deleted {
			out = append(out, clone(e.rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

// Seed stores a record as if another device had created or edited it.
// A RemoteID of 0 assigns a new id. Returns the stored copy.
func (s *Server) Seed(rec *schema.Record) *schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clone(rec)
	if c.RemoteID == 0 {
		c.RemoteID = s.allocID()
	}
	s.put(c)
	return clone(c)
}

// Remove deletes a record as if another device had deleted it.
func (s *Server) Remove(kind schema.Kind, remoteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstone(kind, remoteID)
}

// Create implements sync.Gateway.
func (s *Server) Create(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpCreate, Kind: rec.Kind, GUID: rec.GUID})
	if err := s.check(ctx, OpCreate, rec.Kind, rec); err != nil {
		return nil, err
	}
	if rec.GUID != "" {
		if id, ok := s.guids[rec.GUID]; ok {
			if e, ok := s.records[rec.Kind][id]; ok {
				return clone(e.rec), nil
			}
		}
	}
	if err := s.checkParent(rec); err != nil {
		return nil, err
	}

	c := clone(rec)
	c.RemoteID = s.allocID()
	s.put(c)
	if c.GUID != "" {
		s.guids[c.GUID] = c.RemoteID
	}
	return clone(c), nil
}

// Update implements sync.Gateway.
func (s *Server) Update(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpUpdate, Kind: rec.Kind, RemoteID: rec.RemoteID})
	if err := s.check(ctx, OpUpdate, rec.Kind, rec); err != nil {
		return nil, err
	}
	e, ok := s.records[rec.Kind][rec.RemoteID]
	if !ok || e.rec.Deleted {
		return nil, sync.Rejected(404, fmt.Sprintf("%s %d not found", rec.Kind, rec.RemoteID))
	}
	if err := s.checkParent(rec); err != nil {
		return nil, err
	}

	c := clone(rec)
	c.GUID = e.rec.GUID
	s.put(c)
	return clone(c), nil
}

// Delete implements sync.Gateway.
func (s *Server) Delete(ctx context.Context, kind schema.Kind, remoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpDelete, Kind: kind, RemoteID: remoteID})
	if err := s.check(ctx, OpDelete, kind, nil); err != nil {
		return err
	}
	s.tombstone(kind, remoteID)
	return nil
}

// FetchChanges implements sync.Gateway.
func (s *Server) FetchChanges(ctx context.Context, kind schema.Kind, since int64) (*sync.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpFetch, Kind: kind})
	if err := s.check(ctx, OpFetch, kind, nil); err != nil {
		return nil, err
	}

	var entries []*entry
	for _, e := range s.records[kind] {
		if e.seq > since {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	cs := &sync.ChangeSet{Mark: s.seq}
	for _, e := range entries {
		cs.Records = append(cs.Records, clone(e.rec))
	}
	return cs, nil
}

func (s *Server) check(ctx context.Context, op Op, kind schema.Kind, rec *schema.Record) error {
	if err := ctx.Err(); err != nil {
		return sync.Unreachable("request cancelled", err)
	}
	if s.fail == nil {
		return nil
	}
	var arg *schema.Record
	if rec != nil {
		arg = clone(rec)
	}
	return s.fail(op, kind, arg)
}

func (s *Server) checkParent(rec *schema.Record) error {
	parentKind := rec.Kind.Parent()
	_, parentID := rec.ParentRef()
	if parentKind == "" || parentID == 0 {
		return nil
	}
	if e, ok := s.records[parentKind][parentID]; !ok || e.rec.Deleted {
		return sync.Rejected(422, fmt.Sprintf("unknown %s %d", parentKind, parentID))
	}
	return nil
}

func (s *Server) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) put(rec *schema.Record) {
	// Local bookkeeping never reaches the server.
	rec.LocalID = 0
	rec.Dirty = false
	rec.Stamp = 0
	rec.ClientLocalID = 0
	rec.ProjectLocalID = 0
	rec.ClientProjectName = ""

	if s.records[rec.Kind] == nil {
		s.records[rec.Kind] = make(map[int64]*entry)
	}
	s.seq++
	s.records[rec.Kind][rec.RemoteID] = &entry{rec: rec, seq: s.seq}
}

func (s *Server) tombstone(kind schema.Kind, remoteID int64) {
	e, ok := s.records[kind][remoteID]
	if !ok || e.rec.Deleted {
		return
	}
	s.seq++
	e.rec = &schema.Record{Kind: kind, RemoteID: remoteID, Deleted: true}
	e.seq = s.seq
}

func clone(rec *schema.Record) *schema.Record {
	c := *rec
	if rec.Description != nil {
		c.Description = schema.StringPtr(*rec.Description)
	}
	return &c
}
