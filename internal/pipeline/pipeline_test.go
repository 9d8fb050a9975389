package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/veil-scan/warden/internal/model"
	"github.com/veil-scan/warden/internal/signature"
)

type fakeRep struct {
	lookupReport model.ReputationReport

	mu         sync.Mutex
	scanCalls  []string
	scanCalled chan struct{}
}

func (f *fakeRep) Lookup(ctx context.Context, sha256 string) (model.ReputationReport, error) {
	return f.lookupReport, nil
}

func (f *fakeRep) Scan(ctx context.Context, path string, wait bool) (model.ReputationReport, error) {
	f.mu.Lock()
	f.scanCalls = append(f.scanCalls, path)
	f.mu.Unlock()
	if f.scanCalled != nil {
		select {
		case f.scanCalled <- struct{}{}:
		default:
		}
	}
	return model.ReputationReport{Verdict: "pending"}, nil
}

type fakeOfflineDB struct {
	rec *model.SignatureRecord
}

func (f *fakeOfflineDB) LookupSignature(ctx context.Context, sha256, md5 string) (*model.SignatureRecord, error) {
	return f.rec, nil
}

type fakeBus struct {
	events []model.Event
}

func (f *fakeBus) Publish(ev model.Event) { f.events = append(f.events, ev) }

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestScanKnownBadHashEscalatesSeverityAndEmitsSignatureHit(t *testing.T) {
	dir := t.TempDir()
	data := []byte("totally normal content")
	path := writeFile(t, dir, "payload.bin", data)

	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])

	snap := &signature.Snapshot{
		Malware:    signature.RuleSet{Hashes: map[string]bool{}, SuspiciousExtensions: map[string]bool{}, Domains: map[string]bool{}},
		Ransomware: signature.RuleSet{Hashes: map[string]bool{}, SuspiciousExtensions: map[string]bool{}, Domains: map[string]bool{}},
		Phishing:   signature.RuleSet{Hashes: map[string]bool{}, SuspiciousExtensions: map[string]bool{}, Domains: map[string]bool{}},
	}

	bus := &fakeBus{}
	db := &fakeOfflineDB{rec: &model.SignatureRecord{
		SHA256:    hexSum,
		Family:    "locky",
		Type:      "ransomware",
		Severity:  model.Critical,
		Source:    "offline-db",
		FirstSeen: time.Now(),
		LastSeen:  time.Now(),
	}}

	p := New(snap, nil, nil, nil, db, bus, nil)

	result, err := p.Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if result.Severity != model.Critical {
		t.Fatalf("expected severity escalated to critical, got %s", result.Severity)
	}
	if !result.Signature.OfflineHit {
		t.Fatalf("expected offline hit flag set")
	}
	if len(result.Signature.Provenance) != 1 || result.Signature.Provenance[0].Family != "locky" {
		t.Fatalf("expected provenance recorded, got %+v", result.Signature.Provenance)
	}

	if len(bus.events) != 1 || bus.events[0].Type != model.EventSignature {
		t.Fatalf("expected one signature_hit event, got %+v", bus.events)
	}
}

func TestScanNoHitsIsLowUnknown(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "clean.txt", []byte("hello world"))

	snap := signature.Load("")
	p := New(snap, nil, nil, nil, nil, nil, nil)

	result, err := p.Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.ThreatScore != 0 {
		t.Fatalf("expected zero threat score, got %f", result.ThreatScore)
	}
	if result.Severity != model.Low {
		t.Fatalf("expected low severity, got %s", result.Severity)
	}
	if result.Category != model.CategoryUnknown {
		t.Fatalf("expected unknown category, got %s", result.Category)
	}
}

func TestScanSubmitsForReputationOnCacheMiss(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "unknown.bin", []byte("anything"))

	snap := signature.Load("")
	rep := &fakeRep{scanCalled: make(chan struct{}, 1)}
	p := New(snap, nil, nil, rep, nil, nil, nil)

	if _, err := p.Scan(context.Background(), path); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	select {
	case <-rep.scanCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an asynchronous reputation.Scan call on a lookup miss")
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.scanCalls) != 1 || rep.scanCalls[0] != path {
		t.Fatalf("expected one Scan call for %s, got %+v", path, rep.scanCalls)
	}
}

func TestScanDoesNotSubmitForReputationOnCacheHit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "known.bin", []byte("anything"))

	snap := signature.Load("")
	rep := &fakeRep{lookupReport: model.ReputationReport{Verdict: "clean", DetectedBy: 0}, scanCalled: make(chan struct{}, 1)}
	p := New(snap, nil, nil, rep, nil, nil, nil)

	if _, err := p.Scan(context.Background(), path); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	select {
	case <-rep.scanCalled:
		t.Fatal("did not expect reputation.Scan to be called on a cache hit")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReloadSignaturesSwapsSnapshot(t *testing.T) {
	snap1 := signature.Load("")
	p := New(snap1, nil, nil, nil, nil, nil, nil)
	if p.Signatures() != snap1 {
		t.Fatalf("expected initial snapshot")
	}

	snap2 := signature.Load("")
	p.ReloadSignatures(snap2)
	if p.Signatures() != snap2 {
		t.Fatalf("expected reloaded snapshot")
	}
}
