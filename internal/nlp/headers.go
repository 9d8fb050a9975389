package nlp

import (
	"regexp"
	"strings"
)

var (
	fromRE       = regexp.MustCompile(`(?im)^From:\s*.*@([\w.-]+)`)
	replyToRE    = regexp.MustCompile(`(?im)^Reply-To:\s*.*@([\w.-]+)`)
	subjectRE    = regexp.MustCompile(`(?im)^Subject:\s*(.*)$`)
	receivedRE   = regexp.MustCompile(`(?im)^Received:`)
	spfFailRE    = regexp.MustCompile(`(?i)spf=fail`)
	dkimFailRE   = regexp.MustCompile(`(?i)dkim=fail`)
	dmarcFailRE  = regexp.MustCompile(`(?i)dmarc=fail`)
	urgentSubjRE = regexp.MustCompile(`(?i)\b(urgent|action required|account suspended|verify now|security alert)\b`)
)

const excessiveReceivedChains = 6

// AnalyzeHeaders inspects the first header block of text (an .eml-style
// message) for from/reply-to domain mismatch, authentication failures,
// urgent subject lines, and excessive Received chains, per spec.md §4.4.
// It returns a risk score in [0,1].
func AnalyzeHeaders(text string) float64 {
	headerBlock := text
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		headerBlock = text[:idx]
	}

	var risk float64

	fromDomain := firstMatch(fromRE, headerBlock)
	replyDomain := firstMatch(replyToRE, headerBlock)
	if fromDomain != "" && replyDomain != "" && !strings.EqualFold(fromDomain, replyDomain) {
		risk += 0.3
	}

	if spfFailRE.MatchString(headerBlock) {
		risk += 0.25
	}
	if dkimFailRE.MatchString(headerBlock) {
		risk += 0.2
	}
	if dmarcFailRE.MatchString(headerBlock) {
		risk += 0.2
	}

	if subj := firstMatch(subjectRE, headerBlock); subj != "" && urgentSubjRE.MatchString(subj) {
		risk += 0.25
	}

	if len(receivedRE.FindAllString(headerBlock, -1)) > excessiveReceivedChains {
		risk += 0.15
	}

	return clamp01(risk)
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
