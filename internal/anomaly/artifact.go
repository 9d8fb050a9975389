// Package anomaly implements C3: loading a pre-fit isolation-forest
// artifact and scoring a file's feature vector against it.
//
// The core never trains this artifact (spec.md §1 Non-goals); it only
// consumes one. The artifact is a small JSON document (split thresholds
// per tree node, plus an optional standardizer) rather than an ONNX
// model — see DESIGN.md for why no ONNX runtime from the pack is wired in
// here.
package anomaly

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Node is one split (or leaf) of an isolation tree.
type Node struct {
	Leaf       bool    `json:"leaf"`
	Size       float64 `json:"size,omitempty"`        // leaf: subtree sample count
	Feature    int     `json:"feature,omitempty"`     // internal: index into FeatureOrder
	SplitValue float64 `json:"split_value,omitempty"` // internal: threshold
	Left       int     `json:"left,omitempty"`        // internal: node index, -1 if absent
	Right      int     `json:"right,omitempty"`       // internal: node index, -1 if absent
}

// Tree is one isolation tree: a flat node array with an explicit root.
type Tree struct {
	Nodes []Node `json:"nodes"`
	Root  int    `json:"root"`
}

// Artifact is the full pre-fit model: either a bare bundle of trees, or a
// pipeline with an embedded standardizer (scaler_mean/scaler_scale),
// matching spec.md §4.3's "pipeline model with an embedded standardizer or
// a bundle {model, features[, scaler_mean, scaler_scale]}" description.
type Artifact struct {
	FeatureOrder []string  `json:"features"`
	Trees        []Tree    `json:"trees"`
	SampleSize   int       `json:"sample_size"`
	Offset       float64   `json:"offset"`
	ScalerMean   []float64 `json:"scaler_mean,omitempty"`
	ScalerScale  []float64 `json:"scaler_scale,omitempty"`
}

// Load loads the artifact from path. If path is absent and url is
// configured, it downloads the artifact, optionally verifying a SHA-256
// checksum, before loading (supplemental behavior recovered from
// original_source/backend/scanner_core/model_loader.py). A missing
// artifact (after the download attempt) is not an error: it is reported
// by returning a nil *Artifact, and the caller must disable the detector
// per spec.md §4.3 ("a missing artifact disables this detector").
func Load(path, url, wantSHA256 string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || url == "" {
			return nil, nil
		}
		data, err = fetchModel(path, url, wantSHA256)
		if err != nil {
			return nil, fmt.Errorf("anomaly: fetch model: %w", err)
		}
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		// UNSUPPORTED_FORMAT: degrade the detector rather than fail the
		// pipeline (spec.md §7).
		return nil, nil
	}
	return &a, nil
}

func fetchModel(path, url, wantSHA256 string) ([]byte, error) {
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, err
	}

	if wantSHA256 != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != wantSHA256 {
			return nil, fmt.Errorf("model checksum mismatch")
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return data, nil
}
