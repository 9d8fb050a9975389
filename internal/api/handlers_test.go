package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veil-scan/warden/internal/eventbus"
	"github.com/veil-scan/warden/internal/fastevent"
)

func TestHealthz(t *testing.T) {
	h := New(fastevent.New("secret", nil, nil, eventbus.New(nil, nil), nil, nil), eventbus.New(nil, nil), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPushEventRejectsBadToken(t *testing.T) {
	bus := eventbus.New(nil, nil)
	ing := fastevent.New("secret", nil, nil, bus, nil, nil)
	h := New(ing, bus, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/events/push", strings.NewReader(`{}`))
	req.Header.Set("X-Agent-Token", "wrong")
	rec := httptest.NewRecorder()
	h.PushEvent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPushEventAcceptsValidToken(t *testing.T) {
	bus := eventbus.New(nil, nil)
	go bus.Run(context.Background())

	ing := fastevent.New("secret", nil, nil, bus, nil, nil)
	h := New(ing, bus, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/events/push", strings.NewReader(`{"path":""}`))
	req.Header.Set("X-Agent-Token", "secret")
	rec := httptest.NewRecorder()
	h.PushEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"published":true`) {
		t.Fatalf("expected published:true in body, got %s", rec.Body.String())
	}
}

func TestPushEventRejectsMalformedBody(t *testing.T) {
	bus := eventbus.New(nil, nil)
	ing := fastevent.New("secret", nil, nil, bus, nil, nil)
	h := New(ing, bus, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/events/push", strings.NewReader(`not json`))
	req.Header.Set("X-Agent-Token", "secret")
	rec := httptest.NewRecorder()
	h.PushEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
