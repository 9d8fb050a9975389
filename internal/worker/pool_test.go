package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/veil-scan/warden/internal/model"
	"github.com/veil-scan/warden/internal/watcher"
)

type fakeScanner struct {
	result *model.ScanResult
	err    error
}

func (f *fakeScanner) Scan(ctx context.Context, path string) (*model.ScanResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Path = path
	return &r, nil
}

type fakePolicy struct{ outcome model.PolicyOutcome }

func (f *fakePolicy) Apply(path string, severity model.Severity) model.PolicyOutcome {
	return f.outcome
}

type fakeStore struct {
	mu      sync.Mutex
	results []*model.ScanResult
}

func (f *fakeStore) SaveScanResult(ctx context.Context, r *model.ScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []model.Event
}

func (f *fakeBus) Publish(ev model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeBus) snapshot() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Event(nil), f.events...)
}

func TestStabilityGateDetectsStableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p := &Pool{probeInterval: 10 * time.Millisecond}
	stable, err := p.stabilityGate(path)
	if err != nil {
		t.Fatalf("stabilityGate: %v", err)
	}
	if !stable {
		t.Fatalf("expected stable file to pass the gate")
	}
}

func TestStabilityGateMissingFile(t *testing.T) {
	p := &Pool{probeInterval: 10 * time.Millisecond}
	_, err := p.stabilityGate(filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestHandlePublishesScanResultAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	store := &fakeStore{}
	bus := &fakeBus{}
	p := NewPool(1, nil, &fakeScanner{result: &model.ScanResult{Severity: model.High}},
		&fakePolicy{outcome: model.PolicyOutcome{Action: model.ActionQuarantine}}, store, bus, nil)
	p.probeInterval = 10 * time.Millisecond

	p.handle(context.Background(), watcher.Job{Path: path})

	if len(store.results) != 1 {
		t.Fatalf("expected one persisted result, got %d", len(store.results))
	}
	if store.results[0].Policy.Action != model.ActionQuarantine {
		t.Fatalf("expected quarantine action, got %s", store.results[0].Policy.Action)
	}

	events := bus.snapshot()
	if len(events) != 1 || events[0].Type != model.EventScanResult {
		t.Fatalf("expected one scan_result event, got %+v", events)
	}
}

func TestHandleMissingFilePublishesScanError(t *testing.T) {
	bus := &fakeBus{}
	p := NewPool(1, nil, &fakeScanner{}, &fakePolicy{}, &fakeStore{}, bus, nil)
	p.probeInterval = 10 * time.Millisecond

	p.handle(context.Background(), watcher.Job{Path: filepath.Join(t.TempDir(), "missing.bin")})

	events := bus.snapshot()
	if len(events) != 1 || events[0].Type != model.EventScanError {
		t.Fatalf("expected one scan_error event, got %+v", events)
	}
}

func TestSubmitTracksJobThroughQueueAndHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	queue := watcher.NewQueue(8, nil)
	store := &fakeStore{}
	bus := &fakeBus{}
	p := NewPool(1, queue, &fakeScanner{result: &model.ScanResult{Severity: model.Low}},
		&fakePolicy{outcome: model.PolicyOutcome{Action: model.ActionSimulate}}, store, bus, nil)
	p.probeInterval = 10 * time.Millisecond

	id := p.Submit(path)
	if id == "" {
		t.Fatalf("expected non-empty job id")
	}

	st, ok := p.Status(id)
	if !ok || st.State != JobQueued {
		t.Fatalf("expected queued status right after submit, got %+v ok=%v", st, ok)
	}

	job := <-queue.Chan()
	if job.JobID != id {
		t.Fatalf("expected queued job to carry job id %q, got %q", id, job.JobID)
	}
	p.handle(context.Background(), job)

	st, ok = p.Status(id)
	if !ok {
		t.Fatalf("expected status to remain queryable after handle")
	}
	if st.State != JobDone {
		t.Fatalf("expected done status, got %+v", st)
	}
	if st.Result == nil || st.Result.Path != path {
		t.Fatalf("expected job status to carry the scan result, got %+v", st.Result)
	}
}

func TestStatusUnknownJobID(t *testing.T) {
	p := NewPool(1, nil, nil, nil, nil, nil, nil)
	if _, ok := p.Status("does-not-exist"); ok {
		t.Fatalf("expected unknown job id to report ok=false")
	}
}

func TestSubmitFailedJobRecordsError(t *testing.T) {
	queue := watcher.NewQueue(8, nil)
	p := NewPool(1, queue, &fakeScanner{}, &fakePolicy{}, &fakeStore{}, &fakeBus{}, nil)
	p.probeInterval = 10 * time.Millisecond

	id := p.Submit(filepath.Join(t.TempDir(), "missing.bin"))
	job := <-queue.Chan()
	p.handle(context.Background(), job)

	st, ok := p.Status(id)
	if !ok || st.State != JobError {
		t.Fatalf("expected error status, got %+v ok=%v", st, ok)
	}
	if st.Error == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestClaimPreventsConcurrentSamePathScans(t *testing.T) {
	p := NewPool(1, nil, nil, nil, nil, nil, nil)
	if !p.claim("/tmp/a") {
		t.Fatalf("first claim should succeed")
	}
	if p.claim("/tmp/a") {
		t.Fatalf("second concurrent claim should fail")
	}
	p.release("/tmp/a")
	if !p.claim("/tmp/a") {
		t.Fatalf("claim should succeed again after release")
	}
}
