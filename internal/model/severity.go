package model

import (
	"encoding/json"
	"fmt"
)

// Severity is a total order: Low < Medium < High < Critical.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "low"
	}
}

// MarshalJSON renders Severity as its string label ("low", "medium",
// "high", "critical") rather than the underlying int, so a bare
// json.Marshal of a ScanResult matches spec.md §3's string enum.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the string label produced by MarshalJSON.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	*s = ParseSeverity(label)
	return nil
}

// ParseSeverity parses a severity label, defaulting to Low on an unknown
// value so callers never fail on a malformed config string.
func ParseSeverity(s string) Severity {
	switch s {
	case "critical":
		return Critical
	case "high":
		return High
	case "medium":
		return Medium
	default:
		return Low
	}
}

// Max returns the higher of two severities in the total order.
func Max(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// Category is the attack family a scan result is attributed to.
type Category string

const (
	CategoryRansomware Category = "ransomware"
	CategoryMalware    Category = "malware"
	CategoryPhishing   Category = "phishing"
	CategoryTrojan     Category = "trojan"
	CategoryWorm       Category = "worm"
	CategorySpyware    Category = "spyware"
	CategoryUnknown    Category = "unknown"
)

// knownCategories is the set §4.6 intersects reputation tags against when
// picking a category by vote.
var knownCategories = map[string]Category{
	"ransomware": CategoryRansomware,
	"malware":    CategoryMalware,
	"phishing":   CategoryPhishing,
	"trojan":     CategoryTrojan,
	"worm":       CategoryWorm,
	"spyware":    CategorySpyware,
}

// KnownCategory reports whether tag names one of the recognized
// categories, returning it and true if so.
func KnownCategory(tag string) (Category, bool) {
	c, ok := knownCategories[tag]
	return c, ok
}

// PolicyAction is the enforcement outcome recorded on a scan result.
type PolicyAction string

const (
	ActionSimulate   PolicyAction = "simulate"
	ActionNone       PolicyAction = "none"
	ActionRename     PolicyAction = "rename"
	ActionQuarantine PolicyAction = "quarantine"
	ActionError      PolicyAction = "error"
)
