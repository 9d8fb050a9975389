package signature

import (
	"regexp"
	"strings"
)

// urlRE and bareDomainRE pull candidate domains out of a text snippet for
// the phishing rule set's domain match, reusing the same "URL presence"
// regex class shape as internal/nlp's rule-boost classes.
var (
	urlRE        = regexp.MustCompile(`(?i)https?://([\w.-]+)`)
	bareDomainRE = regexp.MustCompile(`(?i)\b[\w-]+(?:\.[\w-]+)+\.[a-z]{2,}\b`)
)

// ExtractDomains returns the lowercased, deduplicated set of domain-like
// tokens found in text: hosts from http(s) URLs plus bare
// domain-shaped words, for matching against the phishing rule set's
// domain list.
func ExtractDomains(text string) []string {
	if text == "" {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(d string) {
		d = strings.ToLower(strings.TrimSuffix(d, "."))
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}

	for _, m := range urlRE.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range bareDomainRE.FindAllString(text, -1) {
		add(m)
	}
	return out
}
