package nlp

import "testing"

func TestAnalyzeEmptyTextIsNeutral(t *testing.T) {
	a := NewAnalyzer(LoadDefault())
	r := a.Analyze("")
	if r.Score != 0 {
		t.Fatalf("expected zero score for empty text, got %f", r.Score)
	}
}

func TestAnalyzePhishingTextScoresHigh(t *testing.T) {
	a := NewAnalyzer(LoadDefault())
	text := "Urgent: your account has been suspended. Click here to verify account and reset password immediately."
	r := a.Analyze(text)
	if r.Score < 0.5 {
		t.Fatalf("expected high score for phishing text, got %f", r.Score)
	}
	if len(r.SuspiciousSentences) == 0 {
		t.Fatalf("expected at least one suspicious sentence")
	}
}

func TestAnalyzeBenignTextScoresLow(t *testing.T) {
	a := NewAnalyzer(LoadDefault())
	text := "The quarterly report summarizes sales growth across all regions. Nothing else to add."
	r := a.Analyze(text)
	if r.Score > 0.4 {
		t.Fatalf("expected low score for benign text, got %f", r.Score)
	}
}

func TestAnalyzeHeadersDomainMismatch(t *testing.T) {
	text := "From: billing@trusted-bank.com\nReply-To: reply@evil-domain.net\nSubject: Account Verification\n\nBody text here."
	risk := AnalyzeHeaders(text)
	if risk <= 0 {
		t.Fatalf("expected nonzero header risk for domain mismatch, got %f", risk)
	}
}

func TestAnalyzeHeadersAuthFailure(t *testing.T) {
	text := "From: a@example.com\nReceived-SPF: spf=fail\nAuthentication-Results: dkim=fail dmarc=fail\n\nbody"
	risk := AnalyzeHeaders(text)
	if risk < 0.6 {
		t.Fatalf("expected high header risk for auth failures, got %f", risk)
	}
}

func TestAnalyzeHeadersNoSignalIsZero(t *testing.T) {
	text := "From: a@example.com\nSubject: lunch tomorrow\n\nbody"
	risk := AnalyzeHeaders(text)
	if risk != 0 {
		t.Fatalf("expected zero header risk for clean headers, got %f", risk)
	}
}

func TestAnalyzeHeadersExcessiveReceivedChains(t *testing.T) {
	var text string
	for i := 0; i < 8; i++ {
		text += "Received: from relay" + string(rune('a'+i)) + "\n"
	}
	text += "From: a@example.com\n\nbody"
	risk := AnalyzeHeaders(text)
	if risk <= 0 {
		t.Fatalf("expected nonzero header risk for excessive Received chains, got %f", risk)
	}
}
