package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/bridge"
	"github.com/isabella232/mech/protocol"
	"github.com/isabella232/mech/session"
)

type fakeBridge struct {
	paired       []string
	disconnected []string
	pairErr      error
	discErr      error
	sessions     []session.WithMetadata
}

func (f *fakeBridge) Pair(_ context.Context, uri string) error {
	f.paired = append(f.paired, uri)
	return f.pairErr
}

func (f *fakeBridge) Disconnect(_ context.Context, id string) error {
	f.disconnected = append(f.disconnected, id)
	return f.discErr
}

func (f *fakeBridge) Sessions() []session.WithMetadata { return f.sessions }

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, NewRouter(&fakeBridge{}, zerolog.Nop()), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	fb := &fakeBridge{sessions: []session.WithMetadata{
		{Session: session.NewLegacy("wc:abc@1?key=1"), Metadata: &session.Metadata{Name: "Uniswap", Icons: []string{}}},
		{Session: session.NewModern("topic-1")},
	}}
	rec := do(t, NewRouter(fb, zerolog.Nop()), http.MethodGet, "/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0]["uri"] != "wc:abc@1?key=1" || got[0]["legacy"] != true || got[1]["topic"] != "topic-1" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = do(t, NewRouter(&fakeBridge{}, zerolog.Nop()), http.MethodGet, "/sessions", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty list must encode as [], got %s", rec.Body.String())
	}
}

func TestPair(t *testing.T) {
	fb := &fakeBridge{}
	r := NewRouter(fb, zerolog.Nop())

	rec := do(t, r, http.MethodPost, "/pair", `{"uri":"wc:abc@1?key=1"}`)
	if rec.Code != http.StatusAccepted || len(fb.paired) != 1 || fb.paired[0] != "wc:abc@1?key=1" {
		t.Fatalf("unexpected pair result %d %v", rec.Code, fb.paired)
	}

	if rec := do(t, r, http.MethodPost, "/pair", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expect 400, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/pair", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing uri: expect 400, got %d", rec.Code)
	}

	fb.pairErr = protocol.ErrInvalidScheme
	if rec := do(t, r, http.MethodPost, "/pair", `{"uri":"http://x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid scheme: expect 400, got %d", rec.Code)
	}
	fb.pairErr = errors.New("relay down")
	if rec := do(t, r, http.MethodPost, "/pair", `{"uri":"wc:abc@1"}`); rec.Code != http.StatusBadGateway {
		t.Fatalf("dial failure: expect 502, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/pair", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /pair: expect 405, got %d", rec.Code)
	}
}

func TestDisconnectUnescapesID(t *testing.T) {
	fb := &fakeBridge{}
	r := NewRouter(fb, zerolog.Nop())
	id := "wc:abc@1?bridge=https://b.example/x"

	rec := do(t, r, http.MethodDelete, "/sessions/"+url.PathEscape(id), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expect 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fb.disconnected) != 1 || fb.disconnected[0] != id {
		t.Fatalf("unexpected disconnected ids %v", fb.disconnected)
	}

	fb.discErr = bridge.ErrModernDisconnect
	if rec := do(t, r, http.MethodDelete, "/sessions/topic-1", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("modern disconnect: expect 501, got %d", rec.Code)
	}
}
