package sync

import (
	"context"
	"errors"
	"log"
	"os"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apprise/tracksync/internal/schema"
)

// PassResult is the terminal event of a sync pass.
type PassResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Success bool
	Reason  FailureReason // empty on success
	Err     error         // first failure of the pass

	// Outcomes holds one entry per kind that was reconciled, in order.
	Outcomes []*Outcome

	// Changed lists the records written while the pass ran.
	Changed []*schema.Record
}

// Outcome returns the outcome for a kind, or nil if the kind did not run.
func (p *PassResult) Outcome(kind schema.Kind) *Outcome {
	for _, o := range p.Outcomes {
		if o.Kind == kind {
			return o
		}
	}
	return nil
}

func (p *PassResult) fail(err error) {
	if p.Err == nil {
		p.Err = err
		p.Reason = ReasonOf(err)
	}
}

// Coordinator runs sync passes across all kinds in dependency order.
//
// Only one pass runs at a time; RunPass returns ErrAlreadyRunning while a
// pass is in flight. Subscribers receive exactly one PassResult per pass.
type Coordinator struct {
	store      Store
	reconciler *Reconciler
	logger     *log.Logger
	kinds      []schema.Kind
	now        func() time.Time

	running atomic.Bool

	mu      stdsync.Mutex
	subs    map[int]chan PassResult
	nextSub int
}

// NewCoordinator creates a Coordinator over a store and a gateway.
// If logger is nil, a default logger writing to stderr is used.
func NewCoordinator(st Store, gw Gateway, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Coordinator{
		store:      st,
		reconciler: NewReconciler(st, gw, logger),
		logger:     logger,
		kinds:      schema.Kinds(),
		now:        time.Now,
		subs:       make(map[int]chan PassResult),
	}
}

// Running reports whether a pass is in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// RunPass runs one sync pass on the calling goroutine.
//
// It returns ErrAlreadyRunning (and a nil result) if another pass is in
// flight. Otherwise it returns the pass result, which is also published to
// subscribers; the error is the result's Err.
//
// Kinds aborted by the remote service do not stop later kinds. A local
// storage failure stops the pass.
func (c *Coordinator) RunPass(ctx context.Context) (*PassResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	result := &PassResult{
		ID:        uuid.NewString(),
		StartedAt: c.now(),
	}
	c.logger.Printf("Starting sync pass %s", result.ID)

	remap := NewRemap()
	for _, kind := range c.kinds {
		out, err := c.reconciler.Reconcile(ctx, kind, remap)
		if out != nil {
			result.Outcomes = append(result.Outcomes, out)
			for _, f := range out.Failed {
				result.fail(f.Err)
			}
		}
		if err == nil {
			continue
		}
		c.logger.Printf("Reconciling %ss failed: %v", kind, err)
		result.fail(err)
		if errors.Is(err, ErrLocalStorage) {
			break
		}
	}

	result.Changed = c.changedSince(ctx, result.StartedAt)
	result.Duration = c.now().Sub(result.StartedAt)
	result.Success = result.Err == nil

	if result.Success {
		c.logger.Printf("Sync pass %s completed in %v", result.ID, result.Duration)
	} else {
		c.logger.Printf("Sync pass %s failed (%s) in %v: %v", result.ID, result.Reason, result.Duration, result.Err)
	}

	c.publish(*result)
	return result, result.Err
}

func (c *Coordinator) changedSince(ctx context.Context, since time.Time) []*schema.Record {
	var changed []*schema.Record
	for _, kind := range c.kinds {
		recs, err := c.store.FindChangedSince(ctx, kind, since)
		if err != nil {
			c.logger.Printf("Warning: failed to list changed %ss: %v", kind, err)
			continue
		}
		changed = append(changed, recs...)
	}
	return changed
}

// Subscribe registers an observer for pass results. Delivery never blocks
// the pass: when the buffer is full the event is dropped for that
// subscriber. The returned cancel function unregisters and closes the
// channel.
func (c *Coordinator) Subscribe(buffer int) (<-chan PassResult, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan PassResult, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once stdsync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Coordinator) publish(result PassResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range c.subs {
		select {
		case ch <- result:
		default:
			c.logger.Printf("Warning: subscriber %d is full, dropping result of pass %s", id, result.ID)
		}
	}
}
