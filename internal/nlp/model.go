// Package nlp implements C4: a small TF-IDF + logistic regression
// sentence scorer fit offline on an embedded corpus, rule-based confidence
// boosts, and email header analysis (spec.md §4.4).
//
// The rule-boost regex classes follow the same attackRule shape
// (category, compiled patterns, base weight) as
// internal/classify/regex.go from the teacher, adapted from injection
// attack categories to phishing cues.
package nlp

import (
	"embed"
	"encoding/json"
	"math"
	"strings"
)

//go:embed data/model.json
var bundledModel embed.FS

// Model is the embedded TF-IDF + logistic regression artifact: a small
// vocabulary of 1-2 gram terms, their IDF weights, and a trained
// coefficient vector.
type Model struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	Weights    []float64      `json:"weights"`
	Bias       float64        `json:"bias"`
}

// LoadDefault loads the bundled corpus-fit model. Spec.md's Non-goals
// exclude training this model; the core only ever consumes the embedded
// fit.
func LoadDefault() *Model {
	data, err := bundledModel.ReadFile("data/model.json")
	if err != nil {
		return &Model{}
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return &Model{}
	}
	return &m
}

// score runs the TF-IDF vector through the logistic regression and
// returns a probability in [0,1]. Terms absent from the vocabulary
// contribute nothing (out-of-vocabulary terms are ignored, not an error).
func (m *Model) score(sentence string) float64 {
	if len(m.Vocabulary) == 0 {
		return 0
	}

	tf := map[int]float64{}
	tokens := tokenize(sentence)
	grams := append(append([]string(nil), tokens...), bigrams(tokens)...)
	for _, g := range grams {
		if idx, ok := m.Vocabulary[g]; ok {
			tf[idx]++
		}
	}

	var z float64
	for idx, count := range tf {
		idf := 1.0
		if idx < len(m.IDF) {
			idf = m.IDF[idx]
		}
		w := 0.0
		if idx < len(m.Weights) {
			w = m.Weights[idx]
		}
		z += count * idf * w
	}
	z += m.Bias

	return 1 / (1 + math.Exp(-z))
}

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}
