// Package fastevent implements C12: ingestion of fast events pushed by
// external endpoint agents — token authentication, an optional offline
// hash lookup, device-registry upsert, event publication, and optional
// deep-scan enqueue (spec.md §4.12).
package fastevent

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/veil-scan/warden/internal/model"
	"github.com/veil-scan/warden/internal/signature"
	"github.com/veil-scan/warden/internal/watcher"
)

// DeviceStore upserts the endpoint-agent device registry row.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, dev model.Device) error
}

// Publisher is the subset of eventbus.Bus the ingestor needs.
type Publisher interface {
	Publish(ev model.Event)
}

// Enqueuer is the subset of watcher.Queue the ingestor needs to push a
// follow-up deep-scan job.
type Enqueuer interface {
	Push(job watcher.Job)
}

// AgentDescriptor is the optional agent self-description carried in a
// push request, upserted into the device registry.
type AgentDescriptor struct {
	ID       string          `json:"id"`
	Hostname string          `json:"hostname"`
	OS       string          `json:"os"`
	Arch     string          `json:"arch"`
	Version  string          `json:"version"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// PushRequest mirrors POST /events/push's JSON body, spec.md §6.
type PushRequest struct {
	TS              *float64        `json:"ts,omitempty"`
	Path            string          `json:"path,omitempty"`
	SHA256          string          `json:"sha256,omitempty"`
	Meta            json.RawMessage `json:"meta,omitempty"`
	Policy          json.RawMessage `json:"policy,omitempty"`
	Agent           *AgentDescriptor `json:"agent,omitempty"`
	EnqueueDeepScan bool            `json:"enqueue_deep_scan,omitempty"`
}

// PushResult mirrors the push endpoint's JSON response, spec.md §6.
type PushResult struct {
	Published       bool `json:"published"`
	EnqueuedDeepScan bool `json:"enqueued_deep_scan"`
}

// Ingestor handles agent push events.
type Ingestor struct {
	token     string
	offlineDB signature.OfflineDB
	devices   DeviceStore
	bus       Publisher
	queue     Enqueuer
	logger    *slog.Logger
}

// New builds an Ingestor. offlineDB, devices, and queue may be nil: the
// hash lookup, device upsert, or deep-scan enqueue are then skipped.
func New(token string, offlineDB signature.OfflineDB, devices DeviceStore, bus Publisher, queue Enqueuer, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{token: token, offlineDB: offlineDB, devices: devices, bus: bus, queue: queue, logger: logger}
}

// Authenticate reports whether provided matches the configured shared
// secret via a constant-time comparison (spec.md §4.12 step 1). An empty
// configured token never authenticates — there is no agent auth to bypass.
func (ing *Ingestor) Authenticate(provided string) bool {
	if ing.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ing.token), []byte(provided)) == 1
}

// Ingest runs the full C12 flow for one push request.
func (ing *Ingestor) Ingest(ctx context.Context, req PushRequest) (PushResult, error) {
	sha256Hex := req.SHA256
	var md5Hex string

	if req.Path != "" {
		if info, err := os.Stat(req.Path); err == nil && info.Mode().IsRegular() {
			// SHA-256 preferred when the agent supplied it; otherwise fall
			// back to a local MD5 (spec.md §4.12 step 2).
			if sha256Hex == "" {
				if sum, err := md5OfFile(req.Path); err == nil {
					md5Hex = sum
				} else {
					ing.logger.Warn("fastevent: md5 hash failed", "path", req.Path, "error", err)
				}
			}
		}
	}

	var sigHit *model.SignatureRecord
	if ing.offlineDB != nil && (sha256Hex != "" || md5Hex != "") {
		rec, err := ing.offlineDB.LookupSignature(ctx, sha256Hex, md5Hex)
		if err != nil {
			ing.logger.Warn("fastevent: offline signature lookup failed", "path", req.Path, "error", err)
		} else {
			sigHit = rec
		}
	}

	deviceID := ""
	if req.Agent != nil && req.Agent.ID != "" {
		deviceID = req.Agent.ID
		if ing.devices != nil {
			dev := model.Device{
				ID:       req.Agent.ID,
				Hostname: req.Agent.Hostname,
				OS:       req.Agent.OS,
				Arch:     req.Agent.Arch,
				Version:  req.Agent.Version,
				LastSeen: time.Now().UTC(),
				Meta:     req.Agent.Meta,
			}
			if err := ing.devices.UpsertDevice(ctx, dev); err != nil {
				ing.logger.Error("fastevent: device upsert failed", "device_id", deviceID, "error", err)
			}
		}
	}

	if sigHit != nil {
		ing.bus.Publish(model.Event{
			TS:       model.NowTS(),
			Type:     model.EventSignature,
			Path:     req.Path,
			Severity: sigHit.Severity.String(),
			Source:   "agent",
			DeviceID: deviceID,
		})
	}

	payload := enrichedPayload(req, sigHit)
	ts := model.NowTS()
	if req.TS != nil {
		ts = *req.TS
	}

	ev := model.Event{
		TS:       ts,
		Type:     model.EventFastEvent,
		Path:     req.Path,
		Source:   "agent",
		DeviceID: deviceID,
		Payload:  payload,
	}
	if sigHit != nil {
		ev.Severity = sigHit.Severity.String()
	}
	ing.bus.Publish(ev)

	enqueued := false
	if req.EnqueueDeepScan && req.Path != "" && ing.queue != nil {
		if _, err := os.Stat(req.Path); err == nil {
			ing.queue.Push(watcher.Job{Type: "scan_file", Path: req.Path, TS: model.NowTS()})
			enqueued = true
		}
	}

	return PushResult{Published: true, EnqueuedDeepScan: enqueued}, nil
}

func enrichedPayload(req PushRequest, sigHit *model.SignatureRecord) json.RawMessage {
	enriched := map[string]any{}
	if len(req.Meta) > 0 {
		enriched["meta"] = json.RawMessage(req.Meta)
	}
	if req.Agent != nil {
		enriched["agent"] = req.Agent
	}
	if sigHit != nil {
		enriched["signature_hit"] = map[string]any{
			"family":   sigHit.Family,
			"type":     sigHit.Type,
			"severity": sigHit.Severity.String(),
			"source":   sigHit.Source,
		}
	}
	data, err := json.Marshal(enriched)
	if err != nil {
		return nil
	}
	return data
}

func md5OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
