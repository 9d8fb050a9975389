package fusion

import (
	"math"
	"testing"

	"github.com/veil-scan/warden/internal/model"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestFuseNoHitsIsZeroLowUnknown(t *testing.T) {
	r := Fuse(Inputs{})
	if r.ThreatScore != 0 {
		t.Fatalf("expected zero threat score, got %f", r.ThreatScore)
	}
	if r.Severity != model.Low {
		t.Fatalf("expected low severity, got %s", r.Severity)
	}
	if r.Category != model.CategoryUnknown {
		t.Fatalf("expected unknown category, got %s", r.Category)
	}
}

func TestFuseHighEntropyAnomalyScenario(t *testing.T) {
	r := Fuse(Inputs{
		Anomaly: model.AnomalyReport{IsAnomaly: true, RawScore: -0.3},
	})
	if !approxEqual(r.ThreatScore, 0.142, 0.01) {
		t.Fatalf("expected threat score near 0.142, got %f", r.ThreatScore)
	}
	if r.Severity != model.Low {
		t.Fatalf("expected low severity, got %s", r.Severity)
	}
}

func TestFuseReputationDominatesSeverity(t *testing.T) {
	r := Fuse(Inputs{
		Reputation: model.ReputationReport{DetectedBy: 8, Tags: []string{"ransomware"}},
	})
	// rep_comp = min(1, 8/8) = 1.0, so threat_score = 0.45 -> medium.
	if r.Severity != model.Medium {
		t.Fatalf("expected medium severity for full reputation hit, got %s", r.Severity)
	}
	if r.Category != model.CategoryRansomware {
		t.Fatalf("expected ransomware category, got %s", r.Category)
	}
}

func TestFuseHighNLPWithPhishingSignatureForcesPhishing(t *testing.T) {
	r := Fuse(Inputs{
		Signature: model.SignatureReport{Score: 0.5, VoteLabels: []string{"malware", "phishing"}},
		NLP:       model.NlpReport{Score: 0.9},
	})
	if r.Category != model.CategoryPhishing {
		t.Fatalf("expected phishing override, got %s", r.Category)
	}
}

func TestFuseCategoryTieBreaksOnFirstOccurrence(t *testing.T) {
	r := Fuse(Inputs{
		Signature:  model.SignatureReport{VoteLabels: []string{"malware", "trojan"}},
		Reputation: model.ReputationReport{Tags: []string{"trojan", "malware"}},
	})
	if r.Category != model.CategoryMalware {
		t.Fatalf("expected malware to win the tie by first occurrence, got %s", r.Category)
	}
}

func TestFuseClampsAboveOne(t *testing.T) {
	r := Fuse(Inputs{
		Signature:  model.SignatureReport{Score: 1},
		Anomaly:    model.AnomalyReport{IsAnomaly: true, RawScore: -5},
		NLP:        model.NlpReport{Score: 1},
		Reputation: model.ReputationReport{DetectedBy: 20},
	})
	if r.ThreatScore > 1 {
		t.Fatalf("threat score must be clamped to 1, got %f", r.ThreatScore)
	}
	if r.Severity != model.Critical {
		t.Fatalf("expected critical severity, got %s", r.Severity)
	}
}
