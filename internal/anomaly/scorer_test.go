package anomaly

import (
	"testing"

	"github.com/veil-scan/warden/internal/features"
)

func TestScoreNilArtifactIsNeutral(t *testing.T) {
	s := NewScorer(nil)
	r := s.Score(&features.Bundle{Entropy: 7.9})
	if r.IsAnomaly || r.RawScore != 0 {
		t.Errorf("expected neutral report with no artifact, got %+v", r)
	}
}

func TestScoreSingleSplitTree(t *testing.T) {
	// A single tree with one split on entropy: below 5 -> large leaf
	// (typical), above -> tiny leaf (isolated quickly, anomalous).
	a := &Artifact{
		FeatureOrder: []string{"entropy"},
		SampleSize:   256,
		Trees: []Tree{
			{
				Root: 0,
				Nodes: []Node{
					{Feature: 0, SplitValue: 5.0, Left: 1, Right: 2},
					{Leaf: true, Size: 200},
					{Leaf: true, Size: 2},
				},
			},
		},
	}
	s := NewScorer(a)

	lowEntropy := s.Score(&features.Bundle{Entropy: 1.0})
	highEntropy := s.Score(&features.Bundle{Entropy: 7.9})

	if highEntropy.RawScore >= lowEntropy.RawScore {
		t.Errorf("expected high-entropy raw score to be more anomalous (lower) than low-entropy: low=%f high=%f",
			lowEntropy.RawScore, highEntropy.RawScore)
	}
}

func TestAveragePathLengthConstantMonotonic(t *testing.T) {
	if averagePathLengthConstant(256) <= averagePathLengthConstant(16) {
		t.Errorf("c(n) should grow with n")
	}
}
