// Package pipeline orchestrates C1 through C6: feature extraction,
// signature/anomaly/NLP/reputation detection, and fusion into a single
// ScanResult, per spec.md §2's data flow diagram. It mirrors
// internal/classify/pipeline.go's orchestration role in the teacher,
// though here all detector stages run unconditionally — spec.md §2 has
// no early-exit cascade for the detection pipeline itself, only C5's
// network call is conditionally skippable via cache.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/veil-scan/warden/internal/anomaly"
	"github.com/veil-scan/warden/internal/features"
	"github.com/veil-scan/warden/internal/fusion"
	"github.com/veil-scan/warden/internal/model"
	"github.com/veil-scan/warden/internal/nlp"
	"github.com/veil-scan/warden/internal/signature"
)

// Publisher is the subset of eventbus.Bus the pipeline needs to publish
// a synchronous signature_hit event, per spec.md §4.2.
type Publisher interface {
	Publish(ev model.Event)
}

// ReputationLookup is the subset of reputation.Client the pipeline needs:
// a cache-backed hash lookup for the current scan's fusion input, plus
// the upload+poll contract (spec.md §4.5's scan(path, wait)) used to
// submit files with no cached verdict for analysis.
type ReputationLookup interface {
	Lookup(ctx context.Context, sha256 string) (model.ReputationReport, error)
	Scan(ctx context.Context, path string, wait bool) (model.ReputationReport, error)
}

// reputationSubmitTimeout bounds the background upload kicked off when a
// lookup misses; it only needs to cover the upload itself (wait=false),
// not the full analysis window.
const reputationSubmitTimeout = 2 * time.Minute

// Pipeline ties C1 (features) through C6 (fusion) together. The
// signature rule-set snapshot is held behind an atomic pointer per
// spec.md §9's "Global startup state": Reload swaps the whole snapshot,
// and in-flight scans keep whatever reference they already loaded.
type Pipeline struct {
	sigs atomic.Pointer[signature.Snapshot]

	scorer    *anomaly.Scorer
	analyzer  *nlp.Analyzer
	rep       ReputationLookup
	offlineDB signature.OfflineDB
	bus       Publisher
	logger    *slog.Logger
}

// New builds a Pipeline. scorer, analyzer, rep, and offlineDB may each be
// nil, in which case that detector contributes a neutral/zero report
// (spec.md §4.3's "a missing artifact disables this detector" pattern,
// generalized to every optional detector).
func New(sigs *signature.Snapshot, scorer *anomaly.Scorer, analyzer *nlp.Analyzer, rep ReputationLookup, offlineDB signature.OfflineDB, bus Publisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		scorer:    scorer,
		analyzer:  analyzer,
		rep:       rep,
		offlineDB: offlineDB,
		bus:       bus,
		logger:    logger,
	}
	p.sigs.Store(sigs)
	return p
}

// ReloadSignatures atomically swaps in a freshly-loaded snapshot.
func (p *Pipeline) ReloadSignatures(s *signature.Snapshot) {
	p.sigs.Store(s)
}

// Signatures returns the currently active snapshot.
func (p *Pipeline) Signatures() *signature.Snapshot {
	return p.sigs.Load()
}

// submitForReputation uploads path to the reputation provider in the
// background, detached from the request context so the submission
// outlives this scan call. It does not wait for analysis to complete
// (spec.md §4.5's scan(path, wait=false)): the upload alone is enough to
// warm the cache for a later lookup.
func (p *Pipeline) submitForReputation(path string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reputationSubmitTimeout)
		defer cancel()
		if _, err := p.rep.Scan(ctx, path, false); err != nil {
			p.logger.Warn("pipeline: async reputation submission failed", "path", path, "error", err)
		}
	}()
}

// Scan runs the full C1→C6 pipeline against path and returns the fused
// (but not yet policy-enforced) ScanResult. Detector failures degrade
// their own contribution to neutral/zero rather than aborting the scan,
// per spec.md §7 (UNSUPPORTED_FORMAT, EXTERNAL_UNAVAILABLE): a single
// failed file never aborts a batch.
func (p *Pipeline) Scan(ctx context.Context, path string) (*model.ScanResult, error) {
	snap := p.sigs.Load()

	bundle, err := features.Extract(path)
	if err != nil {
		p.logger.Warn("pipeline: feature extraction degraded", "path", path, "error", err)
	}

	domains := signature.ExtractDomains(bundle.TextSnippet)
	sigReport := signature.Match(snap, signature.Input{
		SHA256:  bundle.SHA256,
		Ext:     bundle.Ext,
		Domains: domains,
		Text:    bundle.TextSnippet,
	})

	var anomalyReport model.AnomalyReport
	if p.scorer != nil {
		anomalyReport = p.scorer.Score(bundle)
	}

	var nlpReport model.NlpReport
	if p.analyzer != nil {
		nlpReport = p.analyzer.Analyze(bundle.TextSnippet)
	}

	var repReport model.ReputationReport
	if p.rep != nil && bundle.SHA256 != "" {
		r, err := p.rep.Lookup(ctx, bundle.SHA256)
		if err != nil {
			p.logger.Warn("pipeline: reputation lookup unavailable, contributing 0", "path", path, "error", err)
		} else {
			repReport = r
		}
		if repReport.Verdict == "" {
			// No cached verdict for this hash: submit the file for
			// analysis in the background (original_source's vt_needed /
			// submit_file_async pattern) so a future scan of the same
			// hash is served from cache instead of contributing 0 again.
			p.submitForReputation(path)
		}
	}

	var offlineRec *model.SignatureRecord
	if p.offlineDB != nil && bundle.SHA256 != "" {
		rec, err := signature.MatchOffline(ctx, p.offlineDB, bundle.SHA256, "")
		if err != nil {
			p.logger.Warn("pipeline: offline signature lookup failed", "path", path, "error", err)
		} else if rec != nil {
			offlineRec = rec
			sigReport.OfflineHit = true
			sigReport.Provenance = append(sigReport.Provenance, model.Provenance{
				Provider: rec.Source,
				Family:   rec.Family,
				Type:     rec.Type,
				By:       "hash",
			})
			if p.bus != nil {
				p.bus.Publish(model.Event{
					TS:   model.NowTS(),
					Type: model.EventSignature,
					Path: path,
				})
			}
		}
	}

	fused := fusion.Fuse(fusion.Inputs{
		Signature:  sigReport,
		Anomaly:    anomalyReport,
		NLP:        nlpReport,
		Reputation: repReport,
	})
	if offlineRec != nil {
		// An offline hash-DB hit upgrades, never downgrades, severity
		// (spec.md §4.2/§3 invariant).
		fused.Severity = model.Max(fused.Severity, offlineRec.Severity)
	}

	return &model.ScanResult{
		ID:          uuid.New().String(),
		Path:        bundle.Path,
		Name:        bundle.Name,
		Ext:         bundle.Ext,
		MIME:        bundle.MIME,
		Size:        bundle.Size,
		SHA256:      bundle.SHA256,
		Signature:   sigReport,
		Anomaly:     anomalyReport,
		NLP:         nlpReport,
		Reputation:  repReport,
		ThreatScore: fused.ThreatScore,
		Severity:    fused.Severity,
		Category:    fused.Category,
		Timestamp:   time.Now().UTC(),
	}, nil
}
