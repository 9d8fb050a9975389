// Package fusion combines the four detector outputs into a single
// threat_score, severity, and category, per spec.md §4.6. Its shape
// follows internal/classify/pipeline.go's staged decision logic, adapted
// from "which classifier's verdict wins" to "weighted linear combination
// plus threshold buckets".
package fusion

import (
	"math"

	"github.com/veil-scan/warden/internal/model"
)

const (
	weightReputation = 0.45
	weightSignature  = 0.25
	weightAnomaly    = 0.20
	weightNLP        = 0.10

	nlpPhishingThreshold = 0.65

	severityCritical = 0.80
	severityHigh     = 0.55
	severityMedium   = 0.35
)

// Inputs bundles the detector outputs fusion needs.
type Inputs struct {
	Signature  model.SignatureReport
	Anomaly    model.AnomalyReport
	NLP        model.NlpReport
	Reputation model.ReputationReport
}

// Result is the fused outcome: a threat score, severity, and category.
type Result struct {
	ThreatScore float64
	Severity    model.Severity
	Category    model.Category
}

// Fuse computes the combined threat score, severity, and category from
// the four detector reports, per spec.md §4.6.
func Fuse(in Inputs) Result {
	aiComp := anomalyComponent(in.Anomaly)
	repComp := reputationComponent(in.Reputation)
	nlpComp := clamp01(in.NLP.Score)
	sigComp := clamp01(in.Signature.Score)

	threatScore := clamp01(
		weightReputation*repComp +
			weightSignature*sigComp +
			weightAnomaly*aiComp +
			weightNLP*nlpComp,
	)

	return Result{
		ThreatScore: threatScore,
		Severity:    severityOf(threatScore),
		Category:    categoryOf(in),
	}
}

// anomalyComponent implements ai_comp = 1/(1+exp(3*raw)) when the scorer
// flagged an anomaly, else 0.
func anomalyComponent(a model.AnomalyReport) float64 {
	if !a.IsAnomaly {
		return 0
	}
	return 1 / (1 + math.Exp(3*a.RawScore))
}

// reputationComponent implements rep_comp = min(1, malicious/8).
func reputationComponent(r model.ReputationReport) float64 {
	comp := float64(r.DetectedBy) / 8
	if comp > 1 {
		comp = 1
	}
	return comp
}

func severityOf(score float64) model.Severity {
	switch {
	case score >= severityCritical:
		return model.Critical
	case score >= severityHigh:
		return model.High
	case score >= severityMedium:
		return model.Medium
	default:
		return model.Low
	}
}

// categoryOf picks a category by majority vote across signature votes,
// reputation tags intersected with the known category set, and an
// nlp-derived "phishing" vote when nlp_score is high enough. Ties are
// broken by first occurrence; the fallback is "unknown". A high NLP
// score combined with any phishing signature hit forces "phishing".
func categoryOf(in Inputs) model.Category {
	for _, v := range in.Signature.VoteLabels {
		if v == string(model.CategoryPhishing) && in.NLP.Score >= nlpPhishingThreshold {
			return model.CategoryPhishing
		}
	}

	counts := map[model.Category]int{}
	var order []model.Category
	addVote := func(c model.Category) {
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}

	for _, v := range in.Signature.VoteLabels {
		if c, ok := model.KnownCategory(v); ok {
			addVote(c)
		}
	}
	for _, tag := range in.Reputation.Tags {
		if c, ok := model.KnownCategory(tag); ok {
			addVote(c)
		}
	}
	if in.NLP.Score >= nlpPhishingThreshold {
		addVote(model.CategoryPhishing)
	}

	if len(order) == 0 {
		return model.CategoryUnknown
	}

	best := order[0]
	bestCount := counts[best]
	for _, c := range order[1:] {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
