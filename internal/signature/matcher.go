package signature

import (
	"context"
	"strings"

	"github.com/veil-scan/warden/internal/model"
)

const (
	weightHash      = 0.60
	weightDomain    = 0.30
	weightKeywordExt = 0.25
)

// OfflineDB is the subset of the persistence layer the matcher needs: a
// hash-addressed lookup. Implemented by internal/db.
type OfflineDB interface {
	LookupSignature(ctx context.Context, sha256, md5 string) (*model.SignatureRecord, error)
}

// Input is what the matcher needs from the feature-extraction stage.
type Input struct {
	SHA256  string
	MD5     string
	Ext     string
	Domains []string // candidate domains extracted from the text snippet, if any
	Text    string
}

// Match runs the in-memory rule-set match against snap, returning the
// in-memory portion of the C2 report. The offline DB lookup is performed
// separately by MatchOffline since it requires a context and may emit an
// event.
func Match(snap *Snapshot, in Input) model.SignatureReport {
	hits := map[string]bool{}
	votes := map[string]bool{}
	var voteOrder []string
	score := 0.0

	addVote := func(category string) {
		if !votes[category] {
			votes[category] = true
			voteOrder = append(voteOrder, category)
		}
	}

	check := func(rs RuleSet, category, hashHit, domainHit string) {
		if rs.Hashes[strings.ToLower(in.SHA256)] || (in.MD5 != "" && rs.Hashes[strings.ToLower(in.MD5)]) {
			hits[hashHit] = true
			score += weightHash
			addVote(category)
		}
		if rs.SuspiciousExtensions[strings.ToLower(in.Ext)] {
			hits["ext:"+in.Ext] = true
			score += weightKeywordExt
			addVote(category)
		}
		lowerText := strings.ToLower(in.Text)
		for _, kw := range rs.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lowerText, strings.ToLower(kw)) {
				hits["keyword:"+kw] = true
				score += weightKeywordExt
				addVote(category)
			}
		}
		for _, d := range in.Domains {
			if rs.Domains[strings.ToLower(d)] {
				hits["domain:"+d] = true
				score += weightDomain
				addVote(category)
			}
		}
	}

	check(snap.Malware, "malware", "hash:malware", "domain:malware")
	check(snap.Ransomware, "ransomware", "hash:ransomware", "domain:ransomware")
	check(snap.Phishing, "phishing", "hash:phishing", "domain:phishing")

	if score > 1.0 {
		score = 1.0
	}

	hitList := make([]string, 0, len(hits))
	for h := range hits {
		hitList = append(hitList, h)
	}

	return model.SignatureReport{
		Hits:       hitList,
		Score:      score,
		VoteLabels: voteOrder,
	}
}

// MatchOffline consults the offline hash database. On a hit it returns the
// matched record; the caller is responsible for upgrading severity via
// model.Max and appending the provenance record + emitting signature_hit,
// per spec.md §4.2.
func MatchOffline(ctx context.Context, db OfflineDB, sha256, md5 string) (*model.SignatureRecord, error) {
	return db.LookupSignature(ctx, sha256, md5)
}
