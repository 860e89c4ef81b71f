// Package loadtest stresses the sync engine with concurrent local editors.
//
// A fixture holds a populated record store, an in-memory remote service and
// a coordinator between them. Editors update random tasks while sync passes
// run back to back; afterwards the store must drain to zero dirty records
// and every task must match its remote copy.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/apprise/tracksync/internal/remote/remotetest"
	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/store"
	tsync "github.com/apprise/tracksync/internal/sync"
)

// Fixture is a populated store synced with an in-memory remote.
type Fixture struct {
	DB          *store.DB
	Remote      *remotetest.Server
	Coordinator *tsync.Coordinator

	ClientIDs  []int64
	ProjectIDs []int64
	TaskIDs    []int64
}

// LatencyStats captures timing of one kind of operation.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	TotalOps  int
	Errors    int
	Durations []time.Duration `json:"-"`
}

// Report is the result of RunEditorsDuringSync.
type Report struct {
	Edits  *LatencyStats
	Passes *LatencyStats

	// FailedPasses counts passes that did not fully succeed while editors
	// were running.
	FailedPasses int

	// DrainPasses is how many passes it took to push the last edits.
	DrainPasses int

	// FinalDirty and Mismatches must both be zero for a healthy engine.
	FinalDirty int
	Mismatches int
}

// NewFixture creates a store at dbPath with numProjects projects (spread
// over a client per five projects) and numTasks tasks over the last 30
// days, and runs an initial pass so everything has a remote id.
func NewFixture(ctx context.Context, dbPath string, numProjects, numTasks int, logger *log.Logger) (*Fixture, error) {
	if numProjects < 1 || numTasks < 1 {
		return nil, fmt.Errorf("need at least one project and one task")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	database, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	f := &Fixture{
		DB:     database,
		Remote: remotetest.New(),
	}
	f.Coordinator = tsync.NewCoordinator(database, f.Remote, logger)
	f.Remote.Seed(&schema.Record{Kind: schema.KindUser, Name: "loadtest", RetentionDays: 30})

	if err := f.populate(ctx, numProjects, numTasks); err != nil {
		_ = database.Close()
		return nil, err
	}

	result, err := f.Coordinator.RunPass(ctx)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("initial sync failed: %w", err)
	}
	if !result.Success {
		_ = database.Close()
		return nil, fmt.Errorf("initial sync failed: %s", result.Reason)
	}
	return f, nil
}

func (f *Fixture) populate(ctx context.Context, numProjects, numTasks int) error {
	for i := 0; i < (numProjects+4)/5; i++ {
		rec, err := f.DB.Create(ctx, &schema.Record{Kind: schema.KindClient, Name: fmt.Sprintf("Client %d", i)})
		if err != nil {
			return fmt.Errorf("failed to create client %d: %w", i, err)
		}
		f.ClientIDs = append(f.ClientIDs, rec.LocalID)
	}

	for i := 0; i < numProjects; i++ {
		rec, err := f.DB.Create(ctx, &schema.Record{
			Kind:          schema.KindProject,
			Name:          fmt.Sprintf("Project %d", i),
			ClientLocalID: f.ClientIDs[i/5],
		})
		if err != nil {
			return fmt.Errorf("failed to create project %d: %w", i, err)
		}
		f.ProjectIDs = append(f.ProjectIDs, rec.LocalID)
	}

	base := time.Now().Add(-30 * 24 * time.Hour).Truncate(time.Second)
	for i := 0; i < numTasks; i++ {
		rec, err := f.DB.Create(ctx, &schema.Record{
			Kind:           schema.KindTask,
			Description:    schema.StringPtr(fmt.Sprintf("Task %d", i)),
			Duration:       int64(15*60 + (i%8)*15*60),
			Start:          base.Add(time.Duration(i) * 37 * time.Minute),
			ProjectLocalID: f.ProjectIDs[i%len(f.ProjectIDs)],
		})
		if err != nil {
			return fmt.Errorf("failed to create task %d: %w", i, err)
		}
		f.TaskIDs = append(f.TaskIDs, rec.LocalID)
	}
	return nil
}

// Close closes the fixture's database.
func (f *Fixture) Close() error {
	if f.DB != nil {
		return f.DB.Close()
	}
	return nil
}

// RunEditorsDuringSync runs numEditors goroutines, each updating
// editsPerEditor random tasks, while sync passes run continuously. When the
// editors are done, passes continue until nothing is dirty (at most three),
// then every task is compared with the remote.
func (f *Fixture) RunEditorsDuringSync(ctx context.Context, numEditors, editsPerEditor int) (*Report, error) {
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		editTimes   []time.Duration
		editErrors  int
		editorsDone = make(chan struct{})
	)

	for i := 0; i < numEditors; i++ {
		wg.Add(1)
		go func(editor int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(editor) + 1))
			durations := make([]time.Duration, 0, editsPerEditor)
			failed := 0

			for j := 0; j < editsPerEditor; j++ {
				id := f.TaskIDs[rng.Intn(len(f.TaskIDs))]
				start := time.Now()
				err := f.editTask(ctx, id, fmt.Sprintf("edit %d-%d", editor, j), rng.Int63n(4*3600))
				durations = append(durations, time.Since(start))
				if err != nil {
					failed++
				}
			}

			mu.Lock()
			editTimes = append(editTimes, durations...)
			editErrors += failed
			mu.Unlock()
		}(i)
	}

	go func() {
		wg.Wait()
		close(editorsDone)
	}()

	report := &Report{}
	var passTimes []time.Duration

	for running := true; running; {
		select {
		case <-editorsDone:
			running = false
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			result, err := f.Coordinator.RunPass(ctx)
			if result == nil {
				return nil, err
			}
			passTimes = append(passTimes, result.Duration)
			if !result.Success {
				report.FailedPasses++
			}
		}
	}

	for report.DrainPasses < 3 {
		dirty, err := f.dirtyCount(ctx)
		if err != nil {
			return nil, err
		}
		if dirty == 0 {
			break
		}
		result, err := f.Coordinator.RunPass(ctx)
		if result == nil {
			return nil, err
		}
		report.DrainPasses++
		passTimes = append(passTimes, result.Duration)
	}

	var err error
	if report.FinalDirty, err = f.dirtyCount(ctx); err != nil {
		return nil, err
	}
	if report.Mismatches, err = f.mismatches(ctx); err != nil {
		return nil, err
	}

	report.Edits = computeLatencyStats(editTimes)
	report.Edits.Errors = editErrors
	report.Passes = computeLatencyStats(passTimes)
	report.Passes.Errors = report.FailedPasses
	return report, nil
}

func (f *Fixture) editTask(ctx context.Context, localID int64, description string, duration int64) error {
	task, err := f.DB.FindByLocalID(ctx, schema.KindTask, localID)
	if err != nil {
		return err
	}
	task.Description = schema.StringPtr(description)
	task.Duration = duration
	return f.DB.Update(ctx, task)
}

func (f *Fixture) dirtyCount(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range schema.Kinds() {
		n, err := f.DB.CountDirty(ctx, kind)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// mismatches counts tasks whose content differs from the remote copy.
func (f *Fixture) mismatches(ctx context.Context) (int, error) {
	tasks, err := f.DB.ListActive(ctx, schema.KindTask)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, task := range tasks {
		remote := f.Remote.Get(schema.KindTask, task.RemoteID)
		if remote == nil || !task.SameContent(remote) {
			count++
		}
	}
	return count, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		TotalOps:  len(durations),
		Durations: sorted,
	}
}

// Print writes the statistics under a title.
func (s *LatencyStats) Print(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Total:         %d\n", s.TotalOps)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Healthy reports whether the run ended fully synced.
func (r *Report) Healthy() error {
	var errs []error
	if r.FinalDirty != 0 {
		errs = append(errs, fmt.Errorf("%d records still dirty after %d drain passes", r.FinalDirty, r.DrainPasses))
	}
	if r.Mismatches != 0 {
		errs = append(errs, fmt.Errorf("%d tasks differ from the remote", r.Mismatches))
	}
	if r.Edits != nil && r.Edits.Errors != 0 {
		errs = append(errs, fmt.Errorf("%d edits failed", r.Edits.Errors))
	}
	return errors.Join(errs...)
}
