// Package policy implements C10: the enforcement action applied to a
// scan result once severity is known — simulate, rename, or quarantine,
// gated by a configured minimum severity threshold (spec.md §4.10).
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/veil-scan/warden/internal/model"
)

// Mode is the configured enforcement mode.
type Mode string

const (
	ModeSimulate   Mode = "simulate"
	ModeRename     Mode = "rename"
	ModeQuarantine Mode = "quarantine"
)

// Engine applies the configured mode/threshold to a scanned file.
type Engine struct {
	Mode          Mode
	MinSeverity   model.Severity
	QuarantineDir string
}

// NewEngine builds a policy Engine.
func NewEngine(mode Mode, minSeverity model.Severity, quarantineDir string) *Engine {
	return &Engine{Mode: mode, MinSeverity: minSeverity, QuarantineDir: quarantineDir}
}

// Apply decides and executes the enforcement action for path at the
// given severity, per spec.md §4.10:
//   - severity below the threshold, or mode=simulate → "simulate", no
//     filesystem change.
//   - rename: "<original>.blocked[.n]" with the smallest non-colliding
//     suffix index.
//   - quarantine: move into the quarantine directory, preserving the
//     basename but suffixing "_n" on collision.
//
// Any OS-level error produces action "error" with the message; the
// caller still emits the scan result (the policy never aborts the scan).
func (e *Engine) Apply(path string, severity model.Severity) model.PolicyOutcome {
	if severity < e.MinSeverity || e.Mode == ModeSimulate {
		return model.PolicyOutcome{Action: model.ActionSimulate}
	}

	switch e.Mode {
	case ModeRename:
		return e.rename(path)
	case ModeQuarantine:
		return e.quarantine(path)
	default:
		return model.PolicyOutcome{Action: model.ActionSimulate}
	}
}

func (e *Engine) rename(path string) model.PolicyOutcome {
	target := path + ".blocked"
	for n := 1; fileExists(target); n++ {
		target = fmt.Sprintf("%s.blocked.%d", path, n)
	}
	if err := os.Rename(path, target); err != nil {
		return model.PolicyOutcome{Action: model.ActionError, Error: err.Error()}
	}
	return model.PolicyOutcome{Action: model.ActionRename, TargetPath: target}
}

func (e *Engine) quarantine(path string) model.PolicyOutcome {
	if err := os.MkdirAll(e.QuarantineDir, 0o755); err != nil {
		return model.PolicyOutcome{Action: model.ActionError, Error: err.Error()}
	}

	base := filepath.Base(path)
	target := filepath.Join(e.QuarantineDir, base)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for n := 1; fileExists(target); n++ {
		target = filepath.Join(e.QuarantineDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}

	if err := os.Rename(path, target); err != nil {
		return model.PolicyOutcome{Action: model.ActionError, Error: err.Error()}
	}
	return model.PolicyOutcome{Action: model.ActionQuarantine, TargetPath: target}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
