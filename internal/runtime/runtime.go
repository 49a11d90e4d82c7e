package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentdeck/internal/artifact"
	"agentdeck/internal/claims"
	"agentdeck/internal/ledger"
	"agentdeck/internal/logging"
	"agentdeck/internal/profile"
	"agentdeck/internal/store"
)

// Options wires the runtime's collaborators. The runtime owns their
// lifecycle from Open onward and closes them in Close.
type Options struct {
	Registry     *profile.Registry
	Store        *store.ExperimentStore
	Claims       *claims.Store
	Ledger       *ledger.Ledger
	ArtifactRoot string

	// QueueCapacity bounds the pending-job FIFO (default 64).
	QueueCapacity int

	// DefaultOutputCapBytes caps streams when neither profile nor request
	// sets one (default 1 MiB).
	DefaultOutputCapBytes int64

	// Source identifies this runtime in ledger events and claim updates.
	Source string

	// Now overrides the clock in tests.
	Now func() int64
}

// Runtime executes experiments one at a time in FIFO submission order.
// Construct with Open, dispose with Close; there is no package-level
// instance.
type Runtime struct {
	registry     *profile.Registry
	store        *store.ExperimentStore
	claims       *claims.Store
	ledger       *ledger.Ledger
	artifactRoot string
	defaultCap   int64
	source       string
	now          func() int64

	metaCache *artifact.MetaCache

	jobs    chan *job
	quit    chan struct{}
	done    chan struct{}
	runCtx  context.Context
	runStop context.CancelFunc

	mu          sync.Mutex
	activeRunID string
	closed      bool
}

// Open constructs the runtime, reconciles rows orphaned by a previous
// process, and starts the worker loop.
func Open(opts Options) (*Runtime, error) {
	if opts.Registry == nil || opts.Store == nil || opts.Claims == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("registry, store, claims and ledger are required")
	}
	if opts.ArtifactRoot == "" {
		return nil, fmt.Errorf("artifact root required")
	}

	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = 64
	}
	defaultCap := opts.DefaultOutputCapBytes
	if defaultCap <= 0 {
		defaultCap = 1 << 20
	}
	source := opts.Source
	if source == "" {
		source = "experiment-runtime"
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		registry:     opts.Registry,
		store:        opts.Store,
		claims:       opts.Claims,
		ledger:       opts.Ledger,
		artifactRoot: opts.ArtifactRoot,
		defaultCap:   defaultCap,
		source:       source,
		now:          now,
		metaCache:    artifact.NewMetaCache(),
		jobs:         make(chan *job, capacity),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		runCtx:       ctx,
		runStop:      cancel,
	}

	// Rows left running by a crashed process are never re-executed; they
	// are marked failed so the operator can resubmit deliberately.
	if n, err := r.store.MarkOrphanedRunning("orphaned_by_restart", r.now()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to reconcile orphaned rows: %w", err)
	} else if n > 0 {
		logging.RuntimeWarn("Reconciled %d rows left running by a previous process", n)
	}

	go r.worker()
	logging.Runtime("Experiment runtime open (queue capacity %d)", capacity)
	return r, nil
}

// worker is the single consumer of the job queue; one goroutine means at
// most one child process at any instant, in strict FIFO order.
func (r *Runtime) worker() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		default:
		}

		select {
		case <-r.quit:
			return
		case j := <-r.jobs:
			r.setActive(j.runID)
			r.executeJob(j)
			r.clearActive()
		}
	}
}

func (r *Runtime) setActive(runID string) {
	r.mu.Lock()
	r.activeRunID = runID
	r.mu.Unlock()
}

func (r *Runtime) clearActive() {
	r.mu.Lock()
	r.activeRunID = ""
	r.mu.Unlock()
}

// Close force-kills the process tree of any active run, marks
// queued-but-unstarted jobs canceled, stops the worker, and closes all
// collaborators. Already-persisted terminal rows are untouched.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	logging.Runtime("Runtime closing")

	// Cancel kills the active run's process tree via the sandbox.
	r.runStop()
	close(r.quit)
	<-r.done

	// Discard jobs still sitting in the channel; their rows become
	// canceled below.
	for {
		select {
		case <-r.jobs:
			continue
		default:
		}
		break
	}

	if n, err := r.store.CancelQueued(r.now()); err != nil {
		logging.Get(logging.CategoryRuntime).Error("Failed to cancel queued rows: %v", err)
	} else if n > 0 {
		logging.Runtime("Canceled %d queued runs at shutdown", n)
	}

	var firstErr error
	if err := r.ledger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.claims.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Health reports runtime and collaborator availability.
func (r *Runtime) Health() HealthResult {
	r.mu.Lock()
	active := r.activeRunID
	closed := r.closed
	r.mu.Unlock()

	h := HealthResult{
		StoreAvailable:  r.store.IsAvailable(),
		ClaimsAvailable: r.claims.IsAvailable(),
		LedgerAvailable: r.ledger.IsAvailable(),
		QueueDepth:      len(r.jobs),
		ActiveRunID:     active,
		ProfilesLoaded:  len(r.registry.List()),
	}
	h.OK = !closed && h.StoreAvailable && h.ClaimsAvailable
	return h
}
