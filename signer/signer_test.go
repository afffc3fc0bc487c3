package signer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/loadbalance"
	"github.com/isabella232/mech/mech"
	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

type stubAuthority struct{ hash string }

func (s *stubAuthority) SendTransaction(context.Context, mech.Envelope) (string, error) {
	return s.hash, nil
}
func (s *stubAuthority) SignTransaction(context.Context, mech.Envelope) (string, error) {
	return "0xsigned", nil
}
func (s *stubAuthority) Call(context.Context, string, []json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"0x1"`), nil
}

func TestHolderFailsFastWhenUnset(t *testing.T) {
	h := NewHolder(nil)
	ctx := context.Background()

	if h.Available() {
		t.Fatal("empty holder must not be available")
	}
	if _, err := h.SendTransaction(ctx, mech.Envelope{}); !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("SendTransaction: expect ErrSignerUnavailable, got %v", err)
	}
	if _, err := h.SignTransaction(ctx, mech.Envelope{}); !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("SignTransaction: expect ErrSignerUnavailable, got %v", err)
	}
	if _, err := h.Call(ctx, "eth_chainId", nil); !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("Call: expect ErrSignerUnavailable, got %v", err)
	}
	if ErrSignerUnavailable.Error() != "signer not available" {
		t.Errorf("unexpected message %q", ErrSignerUnavailable)
	}
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(&stubAuthority{hash: "0xaa"})
	ctx := context.Background()

	hash, err := h.SendTransaction(ctx, mech.Envelope{})
	if err != nil || hash != "0xaa" {
		t.Fatalf("got %s %v", hash, err)
	}

	h.Set(&stubAuthority{hash: "0xbb"})
	hash, _ = h.SendTransaction(ctx, mech.Envelope{})
	if hash != "0xbb" {
		t.Fatalf("expect swapped authority, got %s", hash)
	}

	h.Set(nil)
	if h.Available() {
		t.Fatal("Set(nil) must clear")
	}
}

// fakeNode answers JSON-RPC requests and records them.
type fakeNode struct {
	mu       sync.Mutex
	requests []rpcRequest
	reply    func(req rpcRequest) (status int, body string)
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var req rpcRequest
	json.Unmarshal(data, &req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	status, body := f.reply(req)
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (f *fakeNode) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newSigner(t *testing.T, balancer loadbalance.Balancer, urls ...string) *RPCSigner {
	t.Helper()
	endpoints := make([]loadbalance.Endpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = loadbalance.Endpoint{URL: u, Weight: 1}
	}
	s, err := NewRPCSigner(RPCOptions{
		Endpoints: endpoints,
		Balancer:  balancer,
		From:      "0x3333333333333333333333333333333333333333",
		Log:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRPCSignerSendTransaction(t *testing.T) {
	node := &fakeNode{reply: func(req rpcRequest) (int, string) {
		return 200, `{"jsonrpc":"2.0","id":1,"result":"0xhash"}`
	}}
	srv := httptest.NewServer(node)
	defer srv.Close()

	s := newSigner(t, nil, srv.URL)
	hash, err := s.SendTransaction(context.Background(), mech.Envelope{To: "0x1111111111111111111111111111111111111111", Value: "0x0", Data: "0x"})
	if err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}
	if hash != "0xhash" {
		t.Fatalf("hash mismatch: %s", hash)
	}

	req := node.requests[0]
	if req.Method != "eth_sendTransaction" || req.JSONRPC != "2.0" {
		t.Fatalf("unexpected request: %+v", req)
	}
	tx := req.Params.([]any)[0].(map[string]any)
	if tx["from"] != "0x3333333333333333333333333333333333333333" {
		t.Fatalf("default sender not applied: %v", tx)
	}
}

func TestRPCSignerSignTransactionShapes(t *testing.T) {
	results := []string{`"0xraw"`, `{"raw":"0xraw","tx":{}}`}
	for _, result := range results {
		node := &fakeNode{reply: func(rpcRequest) (int, string) {
			return 200, `{"jsonrpc":"2.0","id":1,"result":` + result + `}`
		}}
		srv := httptest.NewServer(node)
		s := newSigner(t, nil, srv.URL)
		signed, err := s.SignTransaction(context.Background(), mech.Envelope{})
		srv.Close()
		if err != nil || signed != "0xraw" {
			t.Fatalf("result %s: got %q %v", result, signed, err)
		}
	}
}

func TestRPCSignerErrorObjectIsMappable(t *testing.T) {
	node := &fakeNode{reply: func(rpcRequest) (int, string) {
		return 200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"insufficient funds"}}`
	}}
	srv := httptest.NewServer(node)
	defer srv.Close()

	_, err := newSigner(t, nil, srv.URL).Call(context.Background(), "eth_estimateGas", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expect HTTPError, got %T %v", err, err)
	}

	var rpcErr *message.JSONRPCError
	if !errors.As(mech.MapError(err), &rpcErr) || rpcErr.Code != -32000 || rpcErr.Message != "insufficient funds" {
		t.Fatalf("error body must map to JSONRPCError, got %v", mech.MapError(err))
	}
}

func TestRPCSignerNon2xx(t *testing.T) {
	node := &fakeNode{reply: func(rpcRequest) (int, string) {
		return 502, "bad gateway\n"
	}}
	srv := httptest.NewServer(node)
	defer srv.Close()

	_, err := newSigner(t, nil, srv.URL).Call(context.Background(), "eth_blockNumber", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 502 || httpErr.Body() != "bad gateway" {
		t.Fatalf("unexpected error %v", err)
	}
	if mech.MapError(err) != err {
		t.Fatal("non-JSON body must propagate unchanged")
	}
}

func TestRPCSignerCallRouting(t *testing.T) {
	ok := func(rpcRequest) (int, string) { return 200, `{"jsonrpc":"2.0","id":1,"result":"0x64"}` }
	primary, secondary := &fakeNode{reply: ok}, &fakeNode{reply: ok}
	srvA, srvB := httptest.NewServer(primary), httptest.NewServer(secondary)
	defer srvA.Close()
	defer srvB.Close()

	s := newSigner(t, loadbalance.NewConsistentHashBalancer(), srvA.URL, srvB.URL)
	ctx := session.NewContext(context.Background(), session.NewModern("topic-1"))

	for i := 0; i < 4; i++ {
		result, err := s.Call(ctx, "eth_chainId", nil)
		if err != nil || string(result) != `"0x64"` {
			t.Fatalf("Call: %s %v", result, err)
		}
	}
	if primary.count() != 4 && secondary.count() != 4 {
		t.Fatalf("sticky balancing must keep one session on one endpoint: %d/%d", primary.count(), secondary.count())
	}

	before := primary.count()
	s.SendTransaction(ctx, mech.Envelope{})
	s.SendTransaction(ctx, mech.Envelope{})
	if primary.count() != before+2 {
		t.Fatal("transactions must always go to the primary endpoint")
	}
}

func TestNewRPCSignerValidates(t *testing.T) {
	if _, err := NewRPCSigner(RPCOptions{}); !errors.Is(err, loadbalance.ErrNoEndpoints) {
		t.Fatalf("expect ErrNoEndpoints, got %v", err)
	}
	_, err := NewRPCSigner(RPCOptions{Endpoints: []loadbalance.Endpoint{{URL: "http://x"}}, From: "0x1"})
	if err == nil {
		t.Fatal("expect error for bad sender")
	}
}
