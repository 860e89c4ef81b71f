// Package daemon runs sync passes in the background.
//
// The daemon:
// 1. Runs a pass whenever one is requested (manually, by timer, or by a
// local change to the store)
// 2. Collapses requests made while a pass is pending or in flight
// 3. Lets a running pass finish before shutting down
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	tsync "github.com/apprise/tracksync/internal/sync"
)

// Runner runs one sync pass. *sync.Coordinator implements Runner.
type Runner interface {
	RunPass(ctx context.Context) (*tsync.PassResult, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a pass is requested on a timer.
	// Zero disables periodic passes.
	SyncInterval time.Duration

	// DebounceInterval is how long the store must stay quiet after a local
	// change before a pass is requested. This batches rapid edits together.
	DebounceInterval time.Duration

	// WatchStore enables the store watcher.
	WatchStore bool

	// SyncOnStart requests a pass as soon as the daemon starts.
	SyncOnStart bool

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 2 * time.Second,
		WatchStore:       true,
		SyncOnStart:      true,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts daemon activity since start.
type Stats struct {
	Passes    int64 // passes run
	Failed    int64 // passes that ended unsuccessfully
	Requests  int64 // requests accepted
	Collapsed int64 // requests folded into a pending or running pass
}

// Daemon owns the single background worker that runs sync passes.
type Daemon struct {
	runner Runner
	dbPath string
	config *Config

	watcher  *StoreWatcher
	requests chan struct{}
	passing  atomic.Bool

	passes, failed, accepted, collapsed atomic.Int64

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a daemon running passes through runner. dbPath is the record
// store's database file; it is watched for local changes when
// config.WatchStore is set.
//
// Use Start() to begin.
func New(runner Runner, dbPath string, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	d := &Daemon{
		runner:   runner,
		dbPath:   dbPath,
		config:   config,
		requests: make(chan struct{}, 1),
	}

	if config.WatchStore {
		if dbPath == "" {
			return nil, fmt.Errorf("dbPath cannot be empty when watching the store")
		}
		watcher, err := NewStoreWatcher(dbPath)
		if err != nil {
			return nil, err
		}
		d.watcher = watcher
	}

	return d, nil
}

// Start launches the worker, the timer and the store watcher. It returns
// once they are running; use Stop (or cancel ctx and call Wait) to shut
// down.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("daemon already started")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return err
		}
		d.config.Logger.Printf("Watching: %s", d.dbPath)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.group, _ = errgroup.WithContext(d.ctx)
	d.started = true

	d.group.Go(d.work)
	if d.config.SyncInterval > 0 {
		d.group.Go(d.tick)
	}
	if d.watcher != nil {
		d.group.Go(d.watch)
	}

	d.config.Logger.Println("Daemon started")
	if d.config.SyncOnStart {
		d.RequestSync()
	}
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.config.Logger.Println("Shutdown signal received")
	return d.Stop()
}

// Stop shuts the daemon down, waiting for a running pass to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	err := d.group.Wait()
	d.config.Logger.Println("Daemon stopped")
	return err
}

// RequestSync asks for a pass without blocking. It returns false when the
// request was folded into a pass that is already pending or running.
func (d *Daemon) RequestSync() bool {
	if d.passing.Load() {
		d.collapsed.Add(1)
		return false
	}
	select {
	case d.requests <- struct{}{}:
		d.accepted.Add(1)
		return true
	default:
		d.collapsed.Add(1)
		return false
	}
}

// Stats returns activity counters.
func (d *Daemon) Stats() Stats {
	return Stats{
		Passes:    d.passes.Load(),
		Failed:    d.failed.Load(),
		Requests:  d.accepted.Load(),
		Collapsed: d.collapsed.Load(),
	}
}

// work is the single worker goroutine; passes never overlap.
func (d *Daemon) work() error {
	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-d.requests:
			d.runPass()
		}
	}
}

func (d *Daemon) runPass() {
	d.passing.Store(true)
	defer d.passing.Store(false)

	// A pass is never cancelled mid-flight; Stop waits for it instead.
	ctx := context.WithoutCancel(d.ctx)

	result, err := d.runner.RunPass(ctx)
	if errors.Is(err, tsync.ErrAlreadyRunning) {
		d.config.Logger.Println("Pass already running elsewhere, skipping")
		return
	}

	d.passes.Add(1)
	if err != nil || result == nil || !result.Success {
		d.failed.Add(1)
	}
}

func (d *Daemon) tick() error {
	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-ticker.C:
			d.RequestSync()
		}
	}
}

// watch turns store changes into debounced sync requests. Changes made while
// a pass runs are the pass's own writes and are ignored.
func (d *Daemon) watch() error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return nil

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			if d.passing.Load() {
				continue
			}
			d.config.Logger.Printf("Store event: %s %s", ev.Op, ev.Path)
			if timer == nil {
				timer = time.NewTimer(d.config.DebounceInterval)
			} else {
				timer.Reset(d.config.DebounceInterval)
			}
			timerC = timer.C
			pending = true

		case <-timerC:
			timerC = nil
			if pending {
				pending = false
				d.RequestSync()
			}

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return nil
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
