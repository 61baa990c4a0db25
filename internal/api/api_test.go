package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ChatDesk/internal/messaging"
	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/store"
	"github.com/BTreeMap/ChatDesk/internal/twiliowhatsapp"
)

type fakeRegistrar struct {
	started []string
	handler string
	err     error
}

func (f *fakeRegistrar) Start(_ context.Context, sender, handler string) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, sender)
	f.handler = handler
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	*Server
	client *twiliowhatsapp.MockClient
	store  *store.InMemoryStore
	reg    *fakeRegistrar
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	client := twiliowhatsapp.NewMockClient()
	svc := messaging.NewTwilioService(client)
	t.Cleanup(func() { svc.Stop() })
	st := store.NewInMemoryStore()
	reg := &fakeRegistrar{}
	opts = append([]Option{WithRegistrar(reg, "registration")}, opts...)
	return &testServer{Server: NewServer(svc, st, opts...), client: client, store: st, reg: reg}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestSendMessageHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/v1/messages", `{"number":"+52 1 555 000 1234","message":"Hola"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp := decodeResponse(t, rr); resp.Status != "ok" || resp.Message != "sent" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(ts.client.SentMessages) != 1 || ts.client.SentMessages[0].To != "5215550001234" || ts.client.SentMessages[0].Body != "Hola" {
		t.Errorf("unexpected sent messages: %+v", ts.client.SentMessages)
	}
}

func TestSendMessageHandlerMedia(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/v1/messages", `{"number":"5215550001234","message":"Menú","urlMedia":"https://cdn.example.com/menu.jpg?v=2"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(ts.client.SentMedia) != 1 {
		t.Fatalf("expected 1 media message, got %d", len(ts.client.SentMedia))
	}
	m := ts.client.SentMedia[0].Media
	if m.Kind != models.MediaImage || m.Caption != "Menú" {
		t.Errorf("unexpected media %+v", m)
	}
}

func TestSendMessageHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", "GET", "", http.StatusMethodNotAllowed},
		{"bad json", "POST", `{"number":`, http.StatusBadRequest},
		{"missing number", "POST", `{"message":"hi"}`, http.StatusBadRequest},
		{"missing body", "POST", `{"number":"5215550001234"}`, http.StatusBadRequest},
		{"short number", "POST", `{"number":"12","message":"hi"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rr := ts.do(t, tt.method, "/v1/messages", tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
			if resp := decodeResponse(t, rr); resp.Status != "error" {
				t.Errorf("expected error status, got %+v", resp)
			}
		})
	}
}

func TestSendMessageHandlerTransportFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.client.Err = errors.New("twilio down")

	rr := ts.do(t, "POST", "/v1/messages", `{"number":"5215550001234","message":"Hola"}`)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
}

func TestRegisterHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/v1/register", `{"number":"whatsapp:+5215550001234"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(ts.reg.started) != 1 || ts.reg.started[0] != "5215550001234" || ts.reg.handler != "registration" {
		t.Errorf("unexpected registrar calls: %+v", ts.reg)
	}

	ts.reg.err = errors.New("boom")
	if rr := ts.do(t, "POST", "/v1/register", `{"number":"5215550001234"}`); rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on registrar failure, got %d", rr.Code)
	}
	if rr := ts.do(t, "POST", "/v1/register", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing number, got %d", rr.Code)
	}
}

func TestRegisterHandlerDisabled(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	s := NewServer(messaging.NewTwilioService(client), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("POST", "/v1/register", bytes.NewBufferString(`{"number":"5215550001234"}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestBlacklistHandler(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rr := ts.do(t, "POST", "/v1/blacklist", `{"number":"+5215550001234","intent":"add"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if blocked, _ := ts.store.IsBlacklisted(ctx, "5215550001234"); !blocked {
		t.Error("number should be blacklisted")
	}

	rr = ts.do(t, "GET", "/v1/blacklist", "")
	resp := decodeResponse(t, rr)
	list, ok := resp.Result.([]interface{})
	if !ok || len(list) != 1 || list[0] != "5215550001234" {
		t.Errorf("unexpected blacklist %+v", resp.Result)
	}

	if rr := ts.do(t, "POST", "/v1/blacklist", `{"number":"5215550001234","intent":"remove"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if blocked, _ := ts.store.IsBlacklisted(ctx, "5215550001234"); blocked {
		t.Error("number should have been removed")
	}

	if rr := ts.do(t, "POST", "/v1/blacklist", `{"number":"5215550001234","intent":"ban"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid intent, got %d", rr.Code)
	}
	if rr := ts.do(t, "DELETE", "/v1/blacklist", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t, WithHealthCheck(fakePinger{}))
	if rr := ts.do(t, "GET", "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	ts = newTestServer(t, WithHealthCheck(fakePinger{err: errors.New("db gone")}))
	rr := ts.do(t, "GET", "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", body["status"])
	}
}

func TestOptionalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) })
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	ts := newTestServer(t)
	if rr := ts.do(t, "GET", "/metrics", ""); rr.Code != http.StatusNotFound {
		t.Errorf("metrics should be unmounted, got %d", rr.Code)
	}

	ts = newTestServer(t, WithMetricsHandler(metrics), WithTwilioWebhook(webhook))
	if rr := ts.do(t, "GET", "/metrics", ""); rr.Body.String() != "metrics" {
		t.Errorf("unexpected metrics body %q", rr.Body.String())
	}
	if rr := ts.do(t, "POST", "/twilio/webhook", ""); rr.Code != http.StatusNoContent {
		t.Errorf("expected webhook 204, got %d", rr.Code)
	}
}

func TestMediaKindFromURL(t *testing.T) {
	tests := map[string]models.MediaKind{
		"https://x.test/a.png":        models.MediaImage,
		"https://x.test/a.JPG?w=1":    models.MediaImage,
		"https://x.test/brochure.pdf": models.MediaDocument,
		"https://x.test/no-extension": models.MediaDocument,
		"::not a url":                 models.MediaDocument,
	}
	for raw, want := range tests {
		if got := mediaKindFromURL(raw); got != want {
			t.Errorf("mediaKindFromURL(%q) = %q, want %q", raw, got, want)
		}
	}
}
