package anomaly

import (
	"math"

	"github.com/veil-scan/warden/internal/features"
	"github.com/veil-scan/warden/internal/model"
)

// Scorer wraps a loaded artifact, or none (nil artifact → neutral output,
// spec.md §4.3). It is read-only after construction; reload builds a new
// Scorer and callers swap an atomic pointer to it.
type Scorer struct {
	artifact *Artifact
}

// NewScorer wraps artifact, which may be nil.
func NewScorer(artifact *Artifact) *Scorer {
	return &Scorer{artifact: artifact}
}

// Score builds the feature vector in the artifact's declared order and
// returns the C3 report. With no artifact loaded, the detector is
// disabled: score 0, flag false.
func (s *Scorer) Score(b *features.Bundle) model.AnomalyReport {
	if s == nil || s.artifact == nil || len(s.artifact.Trees) == 0 {
		return model.AnomalyReport{}
	}

	vec := vectorize(b, s.artifact.FeatureOrder)
	if s.artifact.ScalerMean != nil && s.artifact.ScalerScale != nil {
		vec = standardize(vec, s.artifact.ScalerMean, s.artifact.ScalerScale)
	}

	avgPath := s.avgPathLength(vec)
	c := averagePathLengthConstant(float64(s.artifact.SampleSize))
	anomalyScore := math.Pow(2, -avgPath/c)

	// sklearn convention: decision_function = 0.5 - anomalyScore - offset;
	// positive (larger) means more typical/inlier, matching spec.md §4.3's
	// "raw_decision_value is larger for inliers" sign convention.
	raw := 0.5 - anomalyScore - s.artifact.Offset
	isAnomaly := raw < 0

	return model.AnomalyReport{
		IsAnomaly: isAnomaly,
		RawScore:  raw,
	}
}

func (s *Scorer) avgPathLength(vec []float64) float64 {
	if len(s.artifact.Trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range s.artifact.Trees {
		total += pathLength(t, t.Root, vec, 0)
	}
	return total / float64(len(s.artifact.Trees))
}

func pathLength(t Tree, nodeIdx int, vec []float64, depth int) float64 {
	if nodeIdx < 0 || nodeIdx >= len(t.Nodes) {
		return float64(depth)
	}
	n := t.Nodes[nodeIdx]
	if n.Leaf {
		return float64(depth) + averagePathLengthConstant(n.Size)
	}
	if n.Feature < 0 || n.Feature >= len(vec) {
		return float64(depth)
	}
	if vec[n.Feature] < n.SplitValue {
		return pathLength(t, n.Left, vec, depth+1)
	}
	return pathLength(t, n.Right, vec, depth+1)
}

// averagePathLengthConstant is the standard isolation-forest normalization
// term c(n): the average path length of an unsuccessful BST search over n
// points.
func averagePathLengthConstant(n float64) float64 {
	if n <= 1 {
		return 1
	}
	const eulerGamma = 0.5772156649
	h := math.Log(n-1) + eulerGamma
	return 2*h - (2 * (n - 1) / n)
}

func standardize(vec, mean, scale []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		if i >= len(mean) || i >= len(scale) || scale[i] == 0 {
			out[i] = v
			continue
		}
		out[i] = (v - mean[i]) / scale[i]
	}
	return out
}

// vectorize projects the extracted feature bundle onto the artifact's
// declared feature order (spec.md §4.3: "constructed strictly in the
// artifact's declared feature order").
func vectorize(b *features.Bundle, order []string) []float64 {
	named := map[string]float64{
		"size":          float64(b.Size),
		"entropy":       b.Entropy,
		"is_executable": boolF(b.IsExecutable),
		"is_office":     boolF(b.IsOffice),
		"is_archive":    boolF(b.IsArchive),
		"is_script":     boolF(b.IsScript),
		"is_pdf":        boolF(b.IsPDF),
	}

	vec := make([]float64, len(order))
	for i, name := range order {
		vec[i] = named[name] // unknown names default to zero
	}
	return vec
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
