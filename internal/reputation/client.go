// Package reputation implements C5: a rate-limited, retrying,
// cache-backed wrapper around an external file-reputation provider,
// including large-file upload and analysis polling. Its transport shape
// (timeout-bounded http.Client, context-aware requests, io.LimitReader
// capped response bodies, auth-header injection) follows
// internal/memory/client.go from the teacher; its fallback-sentinel
// idiom (a zero-value report, returned together with the error once
// retries are exhausted, which the pipeline logs and counts as a zero
// reputation contribution instead of aborting the scan) follows
// internal/classify/pipeline.go's Confidence==0.5 convention.
package reputation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/veil-scan/warden/internal/errs"
	"github.com/veil-scan/warden/internal/model"
)

const (
	defaultBaseURL     = "https://www.virustotal.com/api/v3"
	httpTimeout        = 60 * time.Second
	maxResponseLen     = 4 << 20 // 4 MiB
	directUploadLimit  = 32 << 20 // 32 MiB
	defaultPollInt     = 5 * time.Second
	smallAnalysisLimit = 300 * time.Second
	largeAnalysisLimit = 600 * time.Second
	maxAttempts        = 6
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	MaxRPM       int
	PollInterval time.Duration
}

// Client is the reputation provider client described by spec.md §4.5.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cache   Cache
	limiter *waiter
	pollInt time.Duration
	logger  *slog.Logger
}

// NewClient builds a reputation client. cache may be nil, in which case
// lookups always miss the cache and writes are discarded.
func NewClient(cfg Config, cache Cache, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInt
	}
	if cache == nil {
		cache = nopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: httpTimeout},
		cache:   cache,
		limiter: newWaiter(cfg.MaxRPM),
		pollInt: poll,
		logger:  logger,
	}
}

// Summary is the normalized per-engine detection summary, spec.md §4.5.
type Summary struct {
	Malicious       int      `json:"malicious"`
	Suspicious      int      `json:"suspicious"`
	Undetected      int      `json:"undetected"`
	DetectionRatio  string   `json:"detection_ratio"`
	EnginesFlagging []string `json:"engines_flagging"`
}

// vtAttributes mirrors the provider's per-engine response shape, per
// original_source/backend/scanner_core/virustotal.py's summarize_vt_data.
type vtAttributes struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status           string         `json:"status"`
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			LastAnalysisResults map[string]struct {
				Category string `json:"category"`
			} `json:"last_analysis_results"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup fetches the normalized reputation report for sha256, per
// spec.md §4.5's lookup(sha256) contract. A cache hit returns without a
// network round-trip.
func (c *Client) Lookup(ctx context.Context, sha256Hex string) (model.ReputationReport, error) {
	if entry, err := c.cache.GetReputation(ctx, sha256Hex); err == nil && entry != nil {
		return summaryToReport(parseVT(entry.Raw), c.baseURL, sha256Hex), nil
	}

	resp, err := c.request(ctx, http.MethodGet, "/files/"+sha256Hex, nil, "")
	if err != nil {
		return model.ReputationReport{}, err
	}

	if resp.statusCode == http.StatusNotFound {
		return model.ReputationReport{}, nil
	}

	if err := c.cache.PutReputation(ctx, sha256Hex, resp.body); err != nil {
		c.logger.Warn("reputation: cache write failed", "sha256", sha256Hex, "error", err)
	}

	return summaryToReport(parseVT(resp.body), c.baseURL, sha256Hex), nil
}

// Scan uploads path for analysis if no existing report is found, optionally
// blocking (wait) until the analysis completes, per spec.md §4.5's
// scan(path, wait) contract.
func (c *Client) Scan(ctx context.Context, path string, wait bool) (model.ReputationReport, error) {
	digest, err := sha256OfFile(path)
	if err != nil {
		return model.ReputationReport{}, errs.New(errs.IOError, "reputation.Scan", err)
	}

	report, err := c.Lookup(ctx, digest)
	if err != nil {
		return model.ReputationReport{}, err
	}
	if report.Verdict != "" {
		return report, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.ReputationReport{}, errs.New(errs.IOError, "reputation.Scan", err)
	}

	analysisID, err := c.upload(ctx, path, info.Size())
	if err != nil {
		return model.ReputationReport{}, err
	}
	if analysisID == "" {
		return model.ReputationReport{}, nil
	}

	if !wait {
		return model.ReputationReport{Verdict: "pending"}, nil
	}

	timeout := smallAnalysisLimit
	if info.Size() > directUploadLimit {
		timeout = largeAnalysisLimit
	}
	if err := c.pollAnalysis(ctx, analysisID, timeout); err != nil {
		return model.ReputationReport{}, err
	}

	return c.Lookup(ctx, digest)
}

func (c *Client) upload(ctx context.Context, path string, size int64) (string, error) {
	if size <= directUploadLimit {
		return c.uploadDirect(ctx, path)
	}
	return c.uploadLarge(ctx, path)
}

func (c *Client) uploadDirect(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.New(errs.IOError, "reputation.uploadDirect", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName(path))
	if err != nil {
		return "", errs.New(errs.InternalError, "reputation.uploadDirect", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", errs.New(errs.IOError, "reputation.uploadDirect", err)
	}
	if err := mw.Close(); err != nil {
		return "", errs.New(errs.InternalError, "reputation.uploadDirect", err)
	}

	resp, err := c.request(ctx, http.MethodPost, "/files", &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	return extractAnalysisID(resp.body), nil
}

func (c *Client) uploadLarge(ctx context.Context, path string) (string, error) {
	resp, err := c.request(ctx, http.MethodPost, "/files/upload_url", nil, "")
	if err != nil {
		return "", err
	}

	var urlResp struct {
		Data struct {
			Attributes struct {
				UploadURL string `json:"upload_url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &urlResp); err != nil {
		return "", errs.New(errs.ExternalUnavailable, "reputation.uploadLarge", err)
	}
	uploadURL := urlResp.Data.Attributes.UploadURL
	if uploadURL == "" {
		return "", errs.New(errs.ExternalUnavailable, "reputation.uploadLarge", fmt.Errorf("no upload_url returned"))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errs.New(errs.IOError, "reputation.uploadLarge", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return "", errs.New(errs.InternalError, "reputation.uploadLarge", err)
	}
	putResp, err := c.http.Do(req)
	if err != nil {
		return "", errs.New(errs.ExternalUnavailable, "reputation.uploadLarge", err)
	}
	defer putResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(putResp.Body, maxResponseLen))
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return "", errs.New(errs.ExternalUnavailable, "reputation.uploadLarge",
			fmt.Errorf("upload PUT returned status %d", putResp.StatusCode))
	}
	return extractAnalysisID(body), nil
}

func (c *Client) pollAnalysis(ctx context.Context, analysisID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := c.request(ctx, http.MethodGet, "/analyses/"+analysisID, nil, "")
		if err != nil {
			return err
		}

		var a vtAttributes
		if err := json.Unmarshal(resp.body, &a); err == nil {
			status := a.Data.Attributes.Status
			if status == "completed" || status == "completed_with_errors" {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return errs.New(errs.ExternalUnavailable, "reputation.pollAnalysis", ctx.Err())
		case <-time.After(c.pollInt):
		}
	}
	return errs.New(errs.ExternalUnavailable, "reputation.pollAnalysis", fmt.Errorf("analysis %s timed out", analysisID))
}

// SummarizeVT normalizes a provider response into Summary, per
// original_source's summarize_vt_data / spec.md §4.5's normalization.
func SummarizeVT(raw json.RawMessage) Summary {
	return parseVT(raw)
}

func parseVT(raw json.RawMessage) Summary {
	if len(raw) == 0 {
		return Summary{}
	}
	var a vtAttributes
	if err := json.Unmarshal(raw, &a); err != nil {
		return Summary{}
	}

	stats := a.Data.Attributes.LastAnalysisStats
	malicious := stats["malicious"]
	suspicious := stats["suspicious"]
	undetected := stats["undetected"]

	total := 0
	for _, v := range stats {
		total += v
	}
	ratio := "0/0"
	if total > 0 {
		ratio = fmt.Sprintf("%d/%d", malicious+suspicious, total)
	}

	var engines []string
	for name, r := range a.Data.Attributes.LastAnalysisResults {
		if r.Category == "malicious" || r.Category == "suspicious" {
			engines = append(engines, name)
		}
	}

	return Summary{
		Malicious:       malicious,
		Suspicious:      suspicious,
		Undetected:      undetected,
		DetectionRatio:  ratio,
		EnginesFlagging: engines,
	}
}

func summaryToReport(s Summary, baseURL, sha256Hex string) model.ReputationReport {
	if s.DetectionRatio == "" && s.Malicious == 0 && s.Suspicious == 0 && s.Undetected == 0 {
		return model.ReputationReport{}
	}

	verdict := "clean"
	if s.Malicious > 0 {
		verdict = "malicious"
	} else if s.Suspicious > 0 {
		verdict = "suspicious"
	}

	return model.ReputationReport{
		DetectedBy: s.Malicious,
		Vendors:    s.EnginesFlagging,
		Tags:       nil,
		Verdict:    verdict,
		Permalink:  fmt.Sprintf("%s/gui/file/%s", baseURL, sha256Hex),
	}
}

func extractAnalysisID(body []byte) string {
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Data.ID
}

func sha256OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
