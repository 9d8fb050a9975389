// Package signature implements C2: in-memory rule-set matching (hash,
// keyword, extension, domain) plus the offline hash database lookup.
//
// The JSON loading idiom (embed a bundled default copy, allow override
// from an external directory, degrade to an empty set on a missing or
// malformed file) follows internal/classify/crowdsec.go from the teacher.
package signature

import (
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data/*.json
var bundledDefaults embed.FS

// RuleSet is one of the three JSON documents described in spec.md §6.
type RuleSet struct {
	Hashes               map[string]bool
	Keywords              []string
	SuspiciousExtensions  map[string]bool
	Domains               map[string]bool
}

type ruleSetFile struct {
	Hashes               []string `json:"hashes"`
	Keywords              []string `json:"keywords"`
	SuspiciousExtensions  []string `json:"suspicious_extensions"`
	Domains               []string `json:"domains"`
}

// Snapshot holds the three loaded rule sets plus the version identifier
// derived from their contents (spec.md §6). It is immutable after
// construction; reload builds a new Snapshot and callers swap an atomic
// pointer to it (spec.md §9 "Global startup state").
type Snapshot struct {
	Malware   RuleSet
	Ransomware RuleSet
	Phishing  RuleSet
	Version   string
}

const (
	malwareFile    = "malware_signatures.json"
	ransomwareFile = "ransomware_signatures.json"
	phishingFile   = "phishing_signatures.json"
)

// Load reads the three signature files from dir, falling back to the
// bundled defaults for any file absent from dir, and to an empty rule set
// for any file that is both absent and malformed in the bundled copy.
func Load(dir string) *Snapshot {
	files := map[string][]byte{}
	var names []string
	for _, name := range []string{malwareFile, ransomwareFile, phishingFile} {
		names = append(names, name)
		data := readFileOrDefault(dir, name)
		files[name] = data
	}

	return &Snapshot{
		Malware:    parseRuleSet(files[malwareFile]),
		Ransomware: parseRuleSet(files[ransomwareFile]),
		Phishing:   parseRuleSet(files[phishingFile]),
		Version:    versionOf(names, files),
	}
}

func readFileOrDefault(dir, name string) []byte {
	if dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return data
		}
	}
	data, err := bundledDefaults.ReadFile("data/" + name)
	if err != nil {
		return nil
	}
	return data
}

func parseRuleSet(data []byte) RuleSet {
	rs := RuleSet{
		Hashes:               map[string]bool{},
		SuspiciousExtensions: map[string]bool{},
		Domains:              map[string]bool{},
	}
	if len(data) == 0 {
		return rs
	}

	var f ruleSetFile
	if err := json.Unmarshal(data, &f); err != nil {
		return rs
	}

	for _, h := range f.Hashes {
		rs.Hashes[strings.ToLower(h)] = true
	}
	rs.Keywords = f.Keywords
	for _, ext := range f.SuspiciousExtensions {
		rs.SuspiciousExtensions[strings.ToLower(ext)] = true
	}
	for _, d := range f.Domains {
		rs.Domains[strings.ToLower(d)] = true
	}
	return rs
}
