package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/veil-scan/warden/internal/model"
)

func writeTemp(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestApplyBelowThresholdSimulates(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "f.txt")

	e := NewEngine(ModeQuarantine, model.High, filepath.Join(dir, "quarantine"))
	out := e.Apply(path, model.Medium)

	if out.Action != model.ActionSimulate {
		t.Fatalf("expected simulate, got %s", out.Action)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should not have moved: %v", err)
	}
}

func TestApplyQuarantineMovesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "bad.exe")
	qdir := filepath.Join(dir, "quarantine")

	e := NewEngine(ModeQuarantine, model.High, qdir)
	out := e.Apply(path, model.Critical)

	if out.Action != model.ActionQuarantine {
		t.Fatalf("expected quarantine, got %s (%s)", out.Action, out.Error)
	}
	if out.TargetPath != filepath.Join(qdir, "bad.exe") {
		t.Fatalf("unexpected target path: %s", out.TargetPath)
	}
	if _, err := os.Stat(out.TargetPath); err != nil {
		t.Fatalf("quarantined file missing: %v", err)
	}
}

func TestApplyQuarantineCollisionSuffixes(t *testing.T) {
	dir := t.TempDir()
	qdir := filepath.Join(dir, "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(qdir, "bad.exe"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed existing: %v", err)
	}

	path := writeTemp(t, dir, "bad.exe")
	e := NewEngine(ModeQuarantine, model.Low, qdir)
	out := e.Apply(path, model.High)

	want := filepath.Join(qdir, "bad_1.exe")
	if out.TargetPath != want {
		t.Fatalf("expected %s, got %s", want, out.TargetPath)
	}
}

func TestApplyRenameSuffix(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "bad.exe")
	if err := os.WriteFile(path+".blocked", []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed existing: %v", err)
	}

	e := NewEngine(ModeRename, model.Low, "")
	out := e.Apply(path, model.High)

	want := path + ".blocked.1"
	if out.TargetPath != want {
		t.Fatalf("expected %s, got %s", want, out.TargetPath)
	}
}
