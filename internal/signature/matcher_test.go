package signature

import "testing"

func testSnapshot() *Snapshot {
	return &Snapshot{
		Malware: RuleSet{
			Hashes:               map[string]bool{"deadbeef": true},
			Keywords:             []string{"mimikatz"},
			SuspiciousExtensions: map[string]bool{".scr": true},
			Domains:              map[string]bool{},
		},
		Ransomware: RuleSet{
			Hashes:               map[string]bool{},
			Keywords:             []string{"pay ransom"},
			SuspiciousExtensions: map[string]bool{},
			Domains:              map[string]bool{},
		},
		Phishing: RuleSet{
			Hashes:               map[string]bool{},
			Keywords:             []string{"verify your account"},
			SuspiciousExtensions: map[string]bool{},
			Domains:              map[string]bool{"evil.example": true},
		},
	}
}

func TestMatchHashHit(t *testing.T) {
	snap := testSnapshot()
	r := Match(snap, Input{SHA256: "DEADBEEF"})
	if r.Score != weightHash {
		t.Errorf("Score = %f, want %f", r.Score, weightHash)
	}
	if len(r.VoteLabels) != 1 || r.VoteLabels[0] != "malware" {
		t.Errorf("VoteLabels = %v", r.VoteLabels)
	}
}

func TestMatchScoreCapsAtOne(t *testing.T) {
	snap := testSnapshot()
	r := Match(snap, Input{
		SHA256: "deadbeef",
		Ext:    ".scr",
		Text:   "run mimikatz now",
	})
	if r.Score != 1.0 {
		t.Errorf("Score = %f, want capped at 1.0", r.Score)
	}
}

func TestMatchKeywordCaseInsensitive(t *testing.T) {
	snap := testSnapshot()
	r := Match(snap, Input{Text: "please VERIFY YOUR ACCOUNT now"})
	if r.Score != weightKeywordExt {
		t.Errorf("Score = %f, want %f", r.Score, weightKeywordExt)
	}
	if len(r.VoteLabels) != 1 || r.VoteLabels[0] != "phishing" {
		t.Errorf("VoteLabels = %v", r.VoteLabels)
	}
}

func TestMatchDomainHit(t *testing.T) {
	snap := testSnapshot()
	r := Match(snap, Input{Domains: []string{"evil.example"}})
	if r.Score != weightDomain {
		t.Errorf("Score = %f, want %f", r.Score, weightDomain)
	}
}

func TestMatchNoHits(t *testing.T) {
	snap := testSnapshot()
	r := Match(snap, Input{SHA256: "abc123", Text: "nothing suspicious here"})
	if r.Score != 0 {
		t.Errorf("Score = %f, want 0", r.Score)
	}
	if len(r.Hits) != 0 {
		t.Errorf("Hits = %v, want empty", r.Hits)
	}
}

func TestLoadBundledDefaultsDegradeGracefully(t *testing.T) {
	snap := Load("/nonexistent/dir/definitely-not-there")
	if snap.Malware.Hashes == nil {
		t.Errorf("Malware.Hashes should never be nil")
	}
	if len(snap.Version) != 12 {
		t.Errorf("Version = %q, want 12 hex chars", snap.Version)
	}
}
