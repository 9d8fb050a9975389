package nlp

import (
	"regexp"
	"sort"
	"strings"

	"github.com/veil-scan/warden/internal/model"
)

// Analyzer runs the document-level phishing analysis described in
// spec.md §4.4.
type Analyzer struct {
	model *Model
}

// NewAnalyzer wraps model (use LoadDefault() for the embedded fit).
func NewAnalyzer(m *Model) *Analyzer {
	return &Analyzer{model: m}
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

const topSentences = 10

// Analyze scores text (a text snippet or email body) and returns the C4
// report. An empty text yields a neutral report.
func (a *Analyzer) Analyze(text string) model.NlpReport {
	if strings.TrimSpace(text) == "" {
		return model.NlpReport{}
	}

	sentences := splitSentences(text)
	type scored struct {
		sentence string
		fused    float64
	}
	var all []scored
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		modelScore := a.model.score(trimmed)
		rules := ruleBoost(trimmed)
		fused := 0.6*modelScore + 0.4*rules
		all = append(all, scored{trimmed, fused})
	}

	if len(all) == 0 {
		return model.NlpReport{}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].fused > all[j].fused })

	n := len(all)
	if n > topSentences {
		n = topSentences
	}
	var sum float64
	var suspicious []string
	for i := 0; i < n; i++ {
		sum += all[i].fused
		if all[i].fused >= 0.5 {
			suspicious = append(suspicious, all[i].sentence)
		}
	}
	docScore := clamp01(sum / float64(n))

	headerRisk := AnalyzeHeaders(text)
	docScore = clamp01(0.85*docScore + 0.15*headerRisk)

	return model.NlpReport{
		LanguageHint:        "en",
		Score:               docScore,
		SuspiciousSentences: suspicious,
		HeaderRisk:          headerRisk,
	}
}

func splitSentences(text string) []string {
	return sentenceSplit.Split(text, -1)
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
