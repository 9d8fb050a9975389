// Package worker implements C9: a fixed pool of scan workers draining
// the job queue, gating on file stability, invoking the detection
// pipeline, applying the enforcement policy, persisting the result, and
// publishing the outcome event (spec.md §4.9).
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/veil-scan/warden/internal/model"
	"github.com/veil-scan/warden/internal/server"
	"github.com/veil-scan/warden/internal/watcher"
)

const (
	stabilityProbes   = 3
	stabilityInterval = 800 * time.Millisecond
)

// Scanner is the pipeline contract a worker invokes per job.
type Scanner interface {
	Scan(ctx context.Context, path string) (*model.ScanResult, error)
}

// Policy is the enforcement contract a worker invokes after scoring.
type Policy interface {
	Apply(path string, severity model.Severity) model.PolicyOutcome
}

// Store persists the fused, policy-enforced result.
type Store interface {
	SaveScanResult(ctx context.Context, r *model.ScanResult) error
}

// Publisher is the subset of eventbus.Bus workers publish to.
type Publisher interface {
	Publish(ev model.Event)
}

// Pool is the fixed-size worker pool described in spec.md §4.9.
type Pool struct {
	queue   *watcher.Queue
	n       int
	scanner Scanner
	policy  Policy
	store   Store
	bus     Publisher
	logger  *slog.Logger

	inFlightMu sync.Mutex
	inFlight   map[string]bool

	jobsMu sync.Mutex
	jobs   map[string]*JobStatus

	probeInterval time.Duration // overridable by tests; defaults to stabilityInterval
}

// JobState is the lifecycle of an ad hoc submitted scan job, mirroring
// original_source/backend/scanner_core/scanner_core.py's jobs dict
// (queued -> running -> done/error).
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobError   JobState = "error"
)

// JobStatus is a snapshot of an ad hoc submitted job's progress, returned
// by Pool.Status. Result is populated only once State is JobDone.
type JobStatus struct {
	State  JobState
	Path   string
	Error  string
	Result *model.ScanResult
}

// NewPool builds a Pool with n workers (at least 1).
func NewPool(n int, queue *watcher.Queue, scanner Scanner, policy Policy, store Store, bus Publisher, logger *slog.Logger) *Pool {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:         queue,
		n:             n,
		scanner:       scanner,
		policy:        policy,
		store:         store,
		bus:           bus,
		logger:        logger,
		inFlight:      make(map[string]bool),
		jobs:          make(map[string]*JobStatus),
		probeInterval: stabilityInterval,
	}
}

// Submit enqueues an ad hoc scan of path outside the watcher/agent
// sources and returns a job id that Status can later be polled with.
// This mirrors scanner_core.py's submit_scan_path/get_job_status pair
// (SPEC_FULL.md "Job status tracking"): a thin addition on top of the
// watcher-driven queue, not a second queue.
func (p *Pool) Submit(path string) string {
	id := newJobID()

	p.jobsMu.Lock()
	p.jobs[id] = &JobStatus{State: JobQueued, Path: path}
	p.jobsMu.Unlock()

	p.queue.Push(watcher.Job{Type: "scan_file", Path: path, TS: model.NowTS(), JobID: id})
	return id
}

// Status reports the current state of a job previously returned by
// Submit. The bool is false if jobID is unknown.
func (p *Pool) Status(jobID string) (JobStatus, bool) {
	p.jobsMu.Lock()
	defer p.jobsMu.Unlock()
	st, ok := p.jobs[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

func newJobID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Run starts all n workers, each supervised by server.RunWithRecovery so a
// panic inside one job restarts that worker rather than crashing the
// pool. Run blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.n; i++ {
		wg.Add(1)
		name := workerName(i)
		go func() {
			defer wg.Done()
			server.RunWithRecovery(ctx, p.logger, name, p.loop)
		}()
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue.Chan():
			if !ok {
				return
			}
			p.handle(ctx, job)
		}
	}
}

// handle runs one job end to end. Any failure inside the pipeline is
// contained here: it publishes a scan_error and the worker moves on to
// the next job (spec.md §4.9 step 5, §7 "a single failed file never
// aborts a batch").
func (p *Pool) handle(ctx context.Context, job watcher.Job) {
	if job.JobID != "" {
		p.setJobState(job.JobID, JobRunning, "", nil)
	}

	info, err := os.Stat(job.Path)
	if err != nil {
		p.publishError(job.Path, "path does not exist: "+err.Error())
		p.failJob(job.JobID, "path does not exist: "+err.Error())
		return
	}
	if !info.Mode().IsRegular() {
		p.publishError(job.Path, "path is not a regular file")
		p.failJob(job.JobID, "path is not a regular file")
		return
	}

	// No two concurrent deep scans for the same absolute path are in
	// flight at once (spec.md §3 invariant). A collision here means
	// another producer raced the same path; the in-flight scan will
	// cover it, so this job is dropped rather than duplicated.
	if !p.claim(job.Path) {
		p.publishError(job.Path, "scan already in flight for this path")
		p.failJob(job.JobID, "scan already in flight for this path")
		return
	}
	defer p.release(job.Path)

	stable, err := p.stabilityGate(job.Path)
	if err != nil {
		p.publishError(job.Path, "stability probe failed: "+err.Error())
		p.failJob(job.JobID, "stability probe failed: "+err.Error())
		return
	}
	if !stable {
		p.publishError(job.Path, "file did not stabilize")
		p.failJob(job.JobID, "file did not stabilize")
		return
	}

	result, err := p.scanner.Scan(ctx, job.Path)
	if err != nil {
		p.publishError(job.Path, err.Error())
		p.failJob(job.JobID, err.Error())
		return
	}

	result.Policy = p.policy.Apply(job.Path, result.Severity)

	if err := p.store.SaveScanResult(ctx, result); err != nil {
		p.logger.Error("worker: persist scan result failed", "path", job.Path, "error", err)
	}

	p.bus.Publish(model.Event{
		TS:       model.NowTS(),
		Type:     model.EventScanResult,
		Path:     job.Path,
		Severity: result.Severity.String(),
		Action:   string(result.Policy.Action),
	})

	if job.JobID != "" {
		p.setJobState(job.JobID, JobDone, "", result)
	}
}

func (p *Pool) failJob(jobID, msg string) {
	if jobID == "" {
		return
	}
	p.setJobState(jobID, JobError, msg, nil)
}

func (p *Pool) setJobState(jobID string, state JobState, errMsg string, result *model.ScanResult) {
	p.jobsMu.Lock()
	defer p.jobsMu.Unlock()
	st, ok := p.jobs[jobID]
	if !ok {
		return
	}
	st.State = state
	st.Error = errMsg
	st.Result = result
}

// stabilityGate reads path's size three times, stabilityInterval apart,
// and reports whether the last two reads agree (spec.md §4.9 step 3).
func (p *Pool) stabilityGate(path string) (bool, error) {
	var sizes [stabilityProbes]int64
	for i := 0; i < stabilityProbes; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		sizes[i] = info.Size()
		if i < stabilityProbes-1 {
			time.Sleep(p.probeInterval)
		}
	}
	return sizes[stabilityProbes-2] == sizes[stabilityProbes-1], nil
}

func (p *Pool) claim(path string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if p.inFlight[path] {
		return false
	}
	p.inFlight[path] = true
	return true
}

func (p *Pool) release(path string) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	delete(p.inFlight, path)
}

func (p *Pool) publishError(path, msg string) {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	p.bus.Publish(model.Event{
		TS:      model.NowTS(),
		Type:    model.EventScanError,
		Path:    path,
		Payload: payload,
	})
}

func workerName(i int) string {
	return "scan-worker-" + strconv.Itoa(i)
}
